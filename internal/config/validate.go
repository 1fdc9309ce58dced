package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = validator.New()

// Validate checks the struct rules of every section plus the requirements of
// the given command: "fetch", "aggregate", "run", "serve" or "points".
func (c *Config) Validate(mode string) error {
	switch mode {
	case "fetch", "aggregate", "run", "serve", "points":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	needsBoundary := mode == "aggregate" || mode == "run"
	if needsBoundary && c.Boundary.Path == "" && c.Boundary.URL == "" && c.Boundary.TigerYear == 0 {
		problems = append(problems, "boundary.path or boundary.url is required (or boundary.tiger_year)")
	}
	if needsBoundary && c.Aggregate.Dissolver == "postgis" && c.Output.DatabaseURL == "" {
		problems = append(problems, "output.database_url is required for the postgis dissolver")
	}
	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be > 0 and <= 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// describe turns a field error into "section.field <rule>" using the
// mapstructure names.
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	field := strings.Join(parts, ".")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}

// snake converts a Go field name such as MaxFailureRate to max_failure_rate.
// Index suffixes like Counties[0] are kept.
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 && runes[i-1] != '[' {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || (nextLower && runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
