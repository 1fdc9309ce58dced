// Package classify decides how each indicator column is rolled up to a zone:
// summed, averaged with a population weight, kept as an identifier, or ignored.
package classify

import (
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrNoWeightColumn is returned when weighted-mean columns exist but no
// weight column can be found.
var ErrNoWeightColumn = eris.New("classify: no weight column found")

// Treatment is how a column is reduced within a zone.
type Treatment int

const (
	// Ignore drops the column from the aggregate.
	Ignore Treatment = iota
	// Identifier marks key and grouping columns.
	Identifier
	// Sum adds present values.
	Sum
	// WeightedMean averages present values weighted by the plan's weight column.
	WeightedMean
)

func (t Treatment) String() string {
	switch t {
	case Identifier:
		return "identifier"
	case Sum:
		return "sum"
	case WeightedMean:
		return "weighted-mean"
	default:
		return "ignore"
	}
}

// Default patterns.
const (
	DefaultSumPattern          = `(?i)(pop|_total(_\d{4})?$|_count(_\d{4})?$)`
	DefaultWeightedMeanPattern = `(?i)(pct_|med|avg|average|mean)`
	DefaultWeightPattern       = `^pop_total_(\d{4})$`
)

// DefaultWeightFallbacks are tried in order when no column matches the weight pattern.
var DefaultWeightFallbacks = []string{"pop_total_2023", "pop_total_2022", "pop_total", "hh_total"}

// Rules is the declarative classification table. Precedence is fixed:
// identifier, then sum, then weighted mean, then ignore.
type Rules struct {
	Sum             *regexp.Regexp
	WeightedMean    *regexp.Regexp
	Weight          *regexp.Regexp
	WeightFallbacks []string
}

// DefaultRules returns the built-in rule table.
func DefaultRules() *Rules {
	return &Rules{
		Sum:             regexp.MustCompile(DefaultSumPattern),
		WeightedMean:    regexp.MustCompile(DefaultWeightedMeanPattern),
		Weight:          regexp.MustCompile(DefaultWeightPattern),
		WeightFallbacks: append([]string(nil), DefaultWeightFallbacks...),
	}
}

// RuleFile is the YAML form of Rules. Empty entries keep the defaults.
type RuleFile struct {
	Sum             string   `yaml:"sum"`
	WeightedMean    string   `yaml:"weighted_mean"`
	WeightPattern   string   `yaml:"weight_pattern"`
	WeightFallbacks []string `yaml:"weight_fallbacks"`
}

// LoadRules reads a rule table from YAML. The file has a top-level
// "classify" key.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules %s", path)
	}
	var wrapper struct {
		Classify RuleFile `yaml:"classify"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "classify: parse rules")
	}
	return wrapper.Classify.Compile()
}

// Compile turns the YAML form into Rules, filling gaps from DefaultRules.
func (f RuleFile) Compile() (*Rules, error) {
	r := DefaultRules()
	var err error
	if f.Sum != "" {
		if r.Sum, err = regexp.Compile(f.Sum); err != nil {
			return nil, eris.Wrap(err, "classify: sum pattern")
		}
	}
	if f.WeightedMean != "" {
		if r.WeightedMean, err = regexp.Compile(f.WeightedMean); err != nil {
			return nil, eris.Wrap(err, "classify: weighted_mean pattern")
		}
	}
	if f.WeightPattern != "" {
		if r.Weight, err = regexp.Compile(f.WeightPattern); err != nil {
			return nil, eris.Wrap(err, "classify: weight pattern")
		}
	}
	if len(f.WeightFallbacks) > 0 {
		r.WeightFallbacks = f.WeightFallbacks
	}
	return r, nil
}

// Treat classifies a single column.
func (r *Rules) Treat(column string, identifiers map[string]bool) Treatment {
	switch {
	case identifiers[column]:
		return Identifier
	case r.Sum.MatchString(column):
		return Sum
	case r.WeightedMean.MatchString(column):
		return WeightedMean
	default:
		return Ignore
	}
}

// SelectWeight returns the weight column: the most recent vintage matching
// the weight pattern, else the first fallback present, else "".
func (r *Rules) SelectWeight(columns []string) string {
	best, bestYear := "", -1
	for _, c := range columns {
		m := r.Weight.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		year := 0
		if len(m) > 1 {
			year, _ = strconv.Atoi(m[1])
		}
		if year > bestYear || (year == bestYear && c > best) {
			best, bestYear = c, year
		}
	}
	if best != "" {
		return best
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	for _, f := range r.WeightFallbacks {
		if present[f] {
			return f
		}
	}
	return ""
}

// Plan is the per-run classification of every column.
type Plan struct {
	Treatments   map[string]Treatment
	Sum          []string
	WeightedMean []string
	Weight       string
}

// Plan classifies columns once. identifierColumns are never aggregated.
// Sum and weighted-mean lists keep the input column order.
func (r *Rules) Plan(columns, identifierColumns []string) (*Plan, error) {
	ids := make(map[string]bool, len(identifierColumns))
	for _, c := range identifierColumns {
		ids[c] = true
	}

	p := &Plan{Treatments: make(map[string]Treatment, len(columns))}
	for _, c := range columns {
		t := r.Treat(c, ids)
		p.Treatments[c] = t
		switch t {
		case Sum:
			p.Sum = append(p.Sum, c)
		case WeightedMean:
			p.WeightedMean = append(p.WeightedMean, c)
		}
	}

	p.Weight = r.SelectWeight(columns)
	if len(p.WeightedMean) > 0 && p.Weight == "" {
		return nil, eris.Wrapf(ErrNoWeightColumn, "%d weighted-mean columns", len(p.WeightedMean))
	}

	zap.L().With(zap.String("component", "classify")).Info("aggregation plan",
		zap.Int("sum", len(p.Sum)),
		zap.Int("weighted_mean", len(p.WeightedMean)),
		zap.String("weight", p.Weight),
		zap.Strings("ignored", p.Columns(Ignore)),
	)
	return p, nil
}

// Columns returns the columns with treatment t, sorted.
func (p *Plan) Columns(t Treatment) []string {
	var out []string
	for c, ct := range p.Treatments {
		if ct == t {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Output returns the aggregated columns in output order: sums, then weighted means.
func (p *Plan) Output() []string {
	out := make([]string, 0, len(p.Sum)+len(p.WeightedMean))
	out = append(out, p.Sum...)
	return append(out, p.WeightedMean...)
}
