package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a YAML configuration, or TOML when the file ends in .toml, on
// top of Default. Decoding is strict: unknown keys are errors. The result is
// validated and every referenced file must exist.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}

	cfg := Default()
	// Views come from the file only.
	cfg.Views = nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("TOML syntax error in config: %w", err)
		}
		cfg.viewOrder = sortedKeys(cfg.Views)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("YAML syntax error in config: %w", err)
		}
		order, err := yamlViewOrder(raw)
		if err != nil {
			return nil, err
		}
		cfg.viewOrder = order
	}
	cfg.path = path

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckFiles(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// yamlViewOrder returns the keys of the views mapping in document order.
func yamlViewOrder(raw []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("YAML syntax error in config: %w", err)
	}
	views := mappingValue(&doc, "views")
	if views == nil || views.Kind != yaml.MappingNode {
		return nil, nil
	}
	order := make([]string, 0, len(views.Content)/2)
	for i := 0; i+1 < len(views.Content); i += 2 {
		order = append(order, views.Content[i].Value)
	}
	return order, nil
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func (c *Config) normalize() {
	if c.Views == nil {
		c.Views = map[string]*CameraView{}
	}
	r := &c.Reconstruction
	if len(r.LegacyTranslation) == 3 {
		r.Translation = r.LegacyTranslation
		r.LegacyTranslation = nil
	}
	if r.ComputedScale == 0 {
		r.ComputedScale = r.Scale
	}
	if r.Algorithm == "" {
		r.Algorithm = AlgorithmDefault
	}
}

// Validate checks shapes and ranges. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, pair := range c.Skeleton {
		for _, name := range pair {
			if !slices.Contains(c.BodyParts, name) {
				return fmt.Errorf("%w: skeleton references unknown body part %q", ErrInvalidConfig, name)
			}
		}
	}
	for name, a := range c.Annotation {
		if a.View != "" {
			if _, ok := c.Views[a.View]; !ok {
				return fmt.Errorf("%w: annotation %q references unknown view %q", ErrInvalidConfig, name, a.View)
			}
		}
	}
	return nil
}

// CheckFiles verifies that the output folder and every annotation and video
// file exist. Relative paths are resolved against the working directory.
func (c *Config) CheckFiles() error {
	if c.OutputFolder != "" {
		if _, err := os.Stat(c.OutputFolder); err != nil {
			return fmt.Errorf("%w: output folder %s", ErrMissingFile, c.OutputFolder)
		}
	}
	for _, name := range sortedKeys(c.Annotation) {
		a := c.Annotation[name]
		for _, p := range []string{a.AnnotationFile, a.VideoFile} {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err != nil {
				return fmt.Errorf("%w: annotation %q: %s", ErrMissingFile, name, p)
			}
		}
	}
	return nil
}

// Save writes the configuration as YAML, views in declaration order.
func (c *Config) Save(path string) error {
	var doc yaml.Node
	if err := doc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if views := mappingValue(&doc, "views"); views != nil && views.Kind == yaml.MappingNode {
		reorderMapping(views, c.ViewNames())
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func reorderMapping(n *yaml.Node, order []string) {
	pairs := make(map[string][2]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs[n.Content[i].Value] = [2]*yaml.Node{n.Content[i], n.Content[i+1]}
	}
	content := make([]*yaml.Node, 0, len(n.Content))
	for _, key := range order {
		if p, ok := pairs[key]; ok {
			content = append(content, p[0], p[1])
		}
	}
	n.Content = content
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
