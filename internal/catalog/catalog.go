package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var builtinModels []byte

type Model struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Provider    string `yaml:"provider" json:"provider"`
	Description string `yaml:"description" json:"description"`
}

type file struct {
	Default string  `yaml:"default"`
	Models  []Model `yaml:"models"`
}

// Catalog is the fixed set of selectable models.
type Catalog struct {
	defaultID string
	models    []Model
	byID      map[string]Model
}

// Load parses path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	raw := builtinModels
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read models file: %w", err)
		}
		raw = data
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var parsed file
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}

	c := &Catalog{byID: make(map[string]Model, len(parsed.Models))}
	for _, model := range parsed.Models {
		model.ID = strings.TrimSpace(model.ID)
		if model.ID == "" {
			continue
		}
		if _, dup := c.byID[model.ID]; dup {
			continue
		}
		if strings.TrimSpace(model.Name) == "" {
			model.Name = model.ID
		}
		c.models = append(c.models, model)
		c.byID[model.ID] = model
	}
	if len(c.models) == 0 {
		return nil, errors.New("models catalog is empty")
	}

	c.defaultID = strings.TrimSpace(parsed.Default)
	if _, ok := c.byID[c.defaultID]; !ok {
		c.defaultID = c.models[0].ID
	}
	return c, nil
}

func (c *Catalog) Models() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Catalog) Default() Model {
	return c.byID[c.defaultID]
}

// Resolve returns the model for id, falling back to the default for empty or unknown ids.
func (c *Catalog) Resolve(id string) Model {
	if model, ok := c.byID[strings.TrimSpace(id)]; ok {
		return model
	}
	return c.Default()
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[strings.TrimSpace(id)]
	return ok
}
