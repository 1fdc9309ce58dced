package tiger

import (
	"os"
	"strings"
)

// sridHints maps fragments of ESRI .prj names to EPSG codes for the systems
// tract files commonly ship in.
var sridHints = []struct {
	fragment string
	srid     int
}{
	{"STATEPLANE_NEW_YORK_LONG_ISLAND_FIPS_3104_FEET", 2263},
	{"NAD83 / NEW YORK LONG ISLAND (FTUS)", 2263},
	{"WGS_1984_WEB_MERCATOR", 3857},
	{"WGS 84 / PSEUDO-MERCATOR", 3857},
	{"GCS_WGS_1984", 4326},
	{"\"WGS 84\"", 4326},
	{"GCS_NORTH_AMERICAN_1983", 4269},
	{"\"NAD83\"", 4269},
}

// GuessSRID returns the EPSG code for a .prj WKT, or 0 when unknown.
func GuessSRID(wkt string) int {
	up := strings.ToUpper(wkt)
	for _, h := range sridHints {
		if strings.Contains(up, h.fragment) {
			return h.srid
		}
	}
	return 0
}

func readPRJ(shpPath string) string {
	data, err := os.ReadFile(sidecar(shpPath, ".prj"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
