// Package acs retrieves ACS 5-year tract tables from the Census Data API and
// turns them into per-tract indicator records with derived percentages.
package acs

// Variable maps a Census API variable code to the column name used downstream.
type Variable struct {
	Code string `yaml:"code" mapstructure:"code"`
	Name string `yaml:"name" mapstructure:"name"`
}

// Composite is a count built by summing other counts.
type Composite struct {
	Name  string
	Parts []string
}

// Ratio is a percentage of Num over Den.
type Ratio struct {
	Name string
	Num  string
	Den  string
}

// Geography columns leading every record row.
const (
	ColYear    = "year"
	ColGEOID   = "GEOID"
	ColState   = "state"
	ColCounty  = "county"
	ColBorough = "borough"
	ColTract   = "tract"
)

// GeoColumns are the static geography columns, in output order.
var GeoColumns = []string{ColGEOID, ColState, ColCounty, ColBorough, ColTract}

// Sentinels are the ACS annotation values that stand for "no estimate".
var Sentinels = map[int64]bool{
	-999999999: true,
	-888888888: true,
	-666666666: true,
	-555555555: true,
	-333333333: true,
	-222222222: true,
}

// DefaultVariables is the NYC tract catalog: income, race, ethnicity, age
// bands and housing tenure.
func DefaultVariables() []Variable {
	return []Variable{
		{"B19013_001E", "median_income"},
		{"B02001_001E", "race_total"},
		{"B02001_002E", "white_alone"},
		{"B02001_003E", "black_alone"},
		{"B02001_005E", "asian_alone"},
		{"B03002_001E", "eth_total"},
		{"B03002_012E", "hispanic_any"},
		{"B01001_001E", "pop_total"},
		{"B01001_003E", "male_under5"},
		{"B01001_027E", "female_under5"},
		{"B01001_020E", "male_65_66"},
		{"B01001_021E", "male_67_69"},
		{"B01001_022E", "male_70_74"},
		{"B01001_023E", "male_75_79"},
		{"B01001_024E", "male_80_84"},
		{"B01001_025E", "male_85_plus"},
		{"B01001_044E", "female_65_66"},
		{"B01001_045E", "female_67_69"},
		{"B01001_046E", "female_70_74"},
		{"B01001_047E", "female_75_79"},
		{"B01001_048E", "female_80_84"},
		{"B01001_049E", "female_85_plus"},
		{"B25003_001E", "hh_total"},
		{"B25003_002E", "owner_occ"},
		{"B25003_003E", "renter_occ"},
	}
}

// DefaultComposites builds under5 and age65plus from the age bands.
func DefaultComposites() []Composite {
	return []Composite{
		{Name: "under5", Parts: []string{"male_under5", "female_under5"}},
		{Name: "age65plus", Parts: []string{
			"male_65_66", "male_67_69", "male_70_74", "male_75_79", "male_80_84", "male_85_plus",
			"female_65_66", "female_67_69", "female_70_74", "female_75_79", "female_80_84", "female_85_plus",
		}},
	}
}

// DefaultRatios lists the derived percentages with their denominators.
func DefaultRatios() []Ratio {
	return []Ratio{
		{"pct_white", "white_alone", "race_total"},
		{"pct_black", "black_alone", "race_total"},
		{"pct_asian", "asian_alone", "race_total"},
		{"pct_hispanic", "hispanic_any", "eth_total"},
		{"pct_under5", "under5", "pop_total"},
		{"pct_65plus", "age65plus", "pop_total"},
		{"pct_renter", "renter_occ", "hh_total"},
		{"pct_owner", "owner_occ", "hh_total"},
	}
}

// DefaultColumns is the per-vintage output column order after the geography columns.
func DefaultColumns() []string {
	return []string{
		"median_income",
		"race_total", "white_alone", "black_alone", "asian_alone",
		"pct_white", "pct_black", "pct_asian",
		"eth_total", "hispanic_any", "pct_hispanic",
		"pop_total", "under5", "age65plus", "pct_under5", "pct_65plus",
		"hh_total", "owner_occ", "renter_occ", "pct_owner", "pct_renter",
	}
}

// DefaultWideMetrics are the per-year columns carried into the wide table.
func DefaultWideMetrics() []string {
	return []string{
		"median_income", "pct_white", "pct_black", "pct_asian", "pct_hispanic",
		"pct_under5", "pct_65plus", "pct_owner", "pct_renter", "pop_total", "hh_total",
	}
}

// NYCCounties maps the five borough county codes to their county names.
func NYCCounties() map[string]string {
	return map[string]string{
		"005": "Bronx",
		"047": "Kings",
		"061": "New York",
		"081": "Queens",
		"085": "Richmond",
	}
}
