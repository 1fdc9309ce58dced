package dataset

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Float is a numeric cell that may be absent. Absent is distinct from zero.
type Float struct {
	Value float64
	Valid bool
}

// Some returns a present value. NaN and infinities are treated as absent.
func Some(v float64) Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float{}
	}
	return Float{Value: v, Valid: true}
}

// Absent returns the absent value.
func Absent() Float { return Float{} }

// ParseFloat parses a text cell. Empty, "NA", "NaN" and unparsable text are absent.
func ParseFloat(s string) Float {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none":
		return Float{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Float{}
	}
	return Some(v)
}

// IsNumeric reports whether s parses as a finite number.
func IsNumeric(s string) bool {
	return ParseFloat(s).Valid
}

// String formats the value with the shortest exact representation; absent is "".
func (f Float) String() string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

// Ptr returns nil when absent. Used for SQL parameters.
func (f Float) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// MarshalJSON encodes absent values as null.
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Round3 rounds to three decimal places, half away from zero.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
