package tiger

import (
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// textDecoder turns raw DBF attribute bytes into UTF-8.
type textDecoder struct {
	enc *encoding.Decoder // nil means UTF-8 with a Windows-1252 fallback
}

// decoderForCPG picks a decoder from a .cpg code page name.
func decoderForCPG(cpg string) textDecoder {
	name := strings.ToUpper(strings.TrimSpace(cpg))
	name = strings.NewReplacer("-", "", "_", "", " ", "").Replace(name)
	switch name {
	case "", "UTF8", "65001":
		return textDecoder{}
	case "1252", "ANSI1252", "CP1252", "WINDOWS1252":
		return textDecoder{enc: charmap.Windows1252.NewDecoder()}
	case "88591", "ISO88591", "LATIN1":
		return textDecoder{enc: charmap.ISO8859_1.NewDecoder()}
	case "437", "CP437", "OEM":
		return textDecoder{enc: charmap.CodePage437.NewDecoder()}
	default:
		return textDecoder{}
	}
}

// readCPG loads the code page sidecar if one exists.
func readCPG(shpPath string) string {
	data, err := os.ReadFile(sidecar(shpPath, ".cpg"))
	if err != nil {
		return ""
	}
	return string(data)
}

func (d textDecoder) decode(raw string) string {
	raw = strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if d.enc == nil {
		if utf8.ValidString(raw) {
			return raw
		}
		out, err := charmap.Windows1252.NewDecoder().String(raw)
		if err != nil {
			return raw
		}
		return out
	}
	out, err := d.enc.String(raw)
	if err != nil {
		return raw
	}
	return out
}

// sidecar swaps the extension of a shapefile path, matching either case.
func sidecar(shpPath, ext string) string {
	base := strings.TrimSuffix(shpPath, shpExt(shpPath))
	for _, e := range []string{ext, strings.ToUpper(ext)} {
		if _, err := os.Stat(base + e); err == nil {
			return base + e
		}
	}
	return base + ext
}

func shpExt(p string) string {
	if i := strings.LastIndex(p, "."); i >= 0 && !strings.ContainsAny(p[i:], `/\`) {
		return p[i:]
	}
	return ""
}
