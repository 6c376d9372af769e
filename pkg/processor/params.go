package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Params are the loosely typed arguments of a processor as they appear in a
// pipeline file.
type Params map[string]any

// Decode copies p into the struct out, which should already hold defaults.
// Unknown keys are rejected and the result is checked against its validate
// tags.
func (p Params) Decode(out any) error {
	raw, err := yaml.Marshal(map[string]any(p))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if len(p) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// LoadJSON reads a JSON document into a value of type T.
func LoadJSON[T any](path string) (T, error) {
	var out T
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// LoadMatrixJSON reads a JSON array of numeric rows, such as a distance
// matrix, and checks that it is rectangular.
func LoadMatrixJSON(path string) ([][]float64, error) {
	m, err := LoadJSON[[][]float64](path)
	if err != nil {
		return nil, err
	}
	for i, row := range m {
		if len(row) != len(m[0]) {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d", path, i, len(row), len(m[0]))
		}
	}
	return m, nil
}
