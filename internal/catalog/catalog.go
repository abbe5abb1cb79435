// Package catalog holds the static model catalog: how each generation model is
// addressed at the provider, which parameters it takes and how it is priced.
//
// A Catalog is built once at startup and never mutated; callers share it freely.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

var ErrModelNotFound = errors.New("model not found")

// Param describes one model parameter.
type Param struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// ParamSchema splits a model's parameters into required and optional ones.
type ParamSchema struct {
	Required map[string]Param `json:"required,omitempty" yaml:"required,omitempty"`
	Optional map[string]Param `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// ModelDescriptor is one catalog entry.
type ModelDescriptor struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Type       string      `json:"type" yaml:"type"` // image, video, audio, chat, ...
	Endpoint   string      `json:"endpoint" yaml:"endpoint"`
	Parameters ParamSchema `json:"parameters" yaml:"parameters"`
	Pricing    *Pricing    `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

// Catalog is an immutable id -> descriptor index.
type Catalog struct {
	models map[string]*ModelDescriptor
}

// New indexes descriptors by id. Empty and duplicate ids are rejected.
func New(models []ModelDescriptor) (*Catalog, error) {
	c := &Catalog{models: make(map[string]*ModelDescriptor, len(models))}
	for i := range models {
		m := models[i]
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: model[%d]: id is required", i)
		}
		if _, dup := c.models[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model id %q", m.ID)
		}
		if m.Endpoint == "" {
			m.Endpoint = m.ID
		}
		c.models[m.ID] = &m
	}
	return c, nil
}

// Lookup resolves a model id.
func (c *Catalog) Lookup(id string) (*ModelDescriptor, error) {
	m, ok := c.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.models)
}

// Models returns every descriptor sorted by id.
func (c *Catalog) Models() []*ModelDescriptor {
	out := make([]*ModelDescriptor, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithDefaults returns a copy of params where every optional parameter the
// caller left out is filled from its declared default. Caller-supplied values,
// including zero values, are never overwritten.
func (m *ModelDescriptor) WithDefaults(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(m.Parameters.Optional))
	for k, v := range params {
		out[k] = v
	}
	for k, p := range m.Parameters.Optional {
		if p.Default == nil {
			continue
		}
		if v, ok := out[k]; !ok || v == nil {
			out[k] = p.Default
		}
	}
	return out
}

// MissingRequired lists required parameters absent from params, sorted.
func (m *ModelDescriptor) MissingRequired(params map[string]any) []string {
	var missing []string
	for k := range m.Parameters.Required {
		if v, ok := params[k]; !ok || v == nil {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// EstimatedTime is the user-facing turnaround hint for the model type.
func (m *ModelDescriptor) EstimatedTime() string {
	if m.Type == "video" {
		return "30-90 seconds"
	}
	return "10-30 seconds"
}
