package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreat(t *testing.T) {
	r := DefaultRules()
	ids := map[string]bool{"GEOID": true, "NTA2020": true}

	tests := []struct {
		column string
		want   Treatment
	}{
		{"GEOID", Identifier},
		{"NTA2020", Identifier},
		{"pop_total_2023", Sum},
		{"hh_total_2022", Sum},
		{"hh_total", Sum},
		{"tree_count", Sum},
		{"pct_white_2023", WeightedMean},
		{"median_income_2021", WeightedMean},
		{"avg_rent", WeightedMean},
		{"pct_pop_growth", Sum},
		{"borough", Ignore},
		{"tract", Ignore},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Treat(tt.column, ids))
		})
	}
}

func TestSelectWeight(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, "pop_total_2023", r.SelectWeight([]string{"pop_total_2021", "pop_total_2023", "pop_total_2022"}))
	assert.Equal(t, "pop_total", r.SelectWeight([]string{"hh_total", "pop_total"}))
	assert.Equal(t, "hh_total", r.SelectWeight([]string{"hh_total", "pct_white"}))
	assert.Equal(t, "", r.SelectWeight([]string{"pct_white"}))
}

func TestPlan(t *testing.T) {
	cols := []string{"GEOID", "borough", "pop_total_2022", "pct_white_2022", "pop_total_2023", "pct_white_2023", "median_income_2023"}
	p, err := DefaultRules().Plan(cols, []string{"GEOID"})
	require.NoError(t, err)

	assert.Equal(t, []string{"pop_total_2022", "pop_total_2023"}, p.Sum)
	assert.Equal(t, []string{"pct_white_2022", "pct_white_2023", "median_income_2023"}, p.WeightedMean)
	assert.Equal(t, "pop_total_2023", p.Weight)
	assert.Equal(t, []string{"borough"}, p.Columns(Ignore))
	assert.Equal(t, Identifier, p.Treatments["GEOID"])
	assert.Equal(t, []string{"pop_total_2022", "pop_total_2023", "pct_white_2022", "pct_white_2023", "median_income_2023"}, p.Output())
}

func TestPlan_NoWeight(t *testing.T) {
	_, err := DefaultRules().Plan([]string{"GEOID", "pct_white_2023"}, []string{"GEOID"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoWeightColumn))

	p, err := DefaultRules().Plan([]string{"GEOID", "tree_count"}, []string{"GEOID"})
	require.NoError(t, err)
	assert.Empty(t, p.Weight)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`classify:
  sum: "(?i)(_n$|households)"
  weight_fallbacks: [households]
`), 0o644))

	r, err := LoadRules(path)
	require.NoError(t, err)

	p, err := r.Plan([]string{"GEOID", "trees_n", "households", "pct_canopy"}, []string{"GEOID"})
	require.NoError(t, err)
	assert.Equal(t, []string{"trees_n", "households"}, p.Sum)
	assert.Equal(t, []string{"pct_canopy"}, p.WeightedMean)
	assert.Equal(t, "households", p.Weight)
}

func TestLoadRules_Errors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classify:\n  sum: \"(unclosed\"\n"), 0o644))
	_, err = LoadRules(path)
	assert.Error(t, err)
}
