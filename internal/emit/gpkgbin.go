package emit

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

const (
	gpFlagLittleEndian = 0x01
	gpFlagEnvelopeXY   = 0x02
	gpFlagEmpty        = 0x10
)

// envelopeSizes maps the envelope indicator (flag bits 1-3) to its byte size.
var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// encodeGeoPackageBinary wraps little-endian WKB in the GeoPackage binary
// header with an XY envelope. Empty geometries carry no envelope.
func encodeGeoPackageBinary(mp *geom.MultiPolygon, srid int) ([]byte, error) {
	body, err := wkb.Marshal(mp, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: encode wkb")
	}

	var buf bytes.Buffer
	buf.Grow(8 + 32 + len(body))
	buf.WriteString("GP")
	buf.WriteByte(0)

	empty := mp.Empty()
	flags := byte(gpFlagLittleEndian)
	if empty {
		flags |= gpFlagEmpty
	} else {
		flags |= gpFlagEnvelopeXY
	}
	buf.WriteByte(flags)

	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(int32(srid)))
	buf.Write(tmp[:4])

	if !empty {
		b := mp.Bounds()
		for _, v := range []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)} {
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
			buf.Write(tmp[:])
		}
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// decodeGeoPackageBinary returns the geometry and SRS id of a GeoPackage blob.
func decodeGeoPackageBinary(blob []byte) (geom.T, int, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, 0, eris.New("gpkg: not a GeoPackage geometry")
	}
	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&gpFlagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srid := int(int32(order.Uint32(blob[4:8])))

	size, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, 0, eris.Errorf("gpkg: bad envelope indicator in flags %#x", flags)
	}
	start := 8 + size
	if len(blob) < start {
		return nil, 0, eris.New("gpkg: truncated header")
	}
	g, err := wkb.Unmarshal(blob[start:])
	if err != nil {
		return nil, 0, eris.Wrap(err, "gpkg: decode wkb")
	}
	return g, srid, nil
}
