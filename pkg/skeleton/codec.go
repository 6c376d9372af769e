package skeleton

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// formatFloat uses the shortest representation that round-trips.
func formatFloat(x float64) string {
	if math.IsNaN(x) {
		return "nan"
	}
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// ParseVector parses a stringified coordinate list such as "[1.5, 2, 3]" or
// "[1.5 2 3]". An empty or "nan" cell yields the sentinel vector of dims; any
// other cell must hold exactly dims coordinates.
func ParseVector(s string, dims int) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "<NA>") {
		return SentinelVector(dims), nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) == 0 {
		return SentinelVector(dims), nil
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse coordinate %q: %w", f, err)
		}
		out[i] = v
	}
	if len(out) != dims {
		return nil, fmt.Errorf("%w: %q has %d coordinates, want %d", ErrShape, s, len(out), dims)
	}
	return out, nil
}

// ParseFloat parses a single numeric cell. Empty and NaN cells return ok=false.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// FormatFloat renders a numeric cell.
func FormatFloat(x float64) string { return formatFloat(x) }
