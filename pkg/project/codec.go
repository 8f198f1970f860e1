package project

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a project serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("format %q (expected json or yaml): %w", s, ErrInvalid)
	}
}

// FormatFromPath picks the format from a file extension, JSON by default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Document is the serialized form of a project. Assessment values are
// aligned with Quantiles; null marks an unanswered level.
type Document struct {
	Name        string                           `json:"name" yaml:"name"`
	Revision    uint64                           `json:"revision,omitempty" yaml:"revision,omitempty"`
	Quantiles   []float64                        `json:"quantiles" yaml:"quantiles"`
	Experts     []Expert                         `json:"experts" yaml:"experts"`
	Items       []Item                           `json:"items" yaml:"items"`
	Assessments map[string]map[string][]*float64 `json:"assessments,omitempty" yaml:"assessments,omitempty"`
	Results     []*Results                       `json:"results,omitempty" yaml:"results,omitempty"`
}

// Document snapshots the project for serialization.
func (p *Project) Document() *Document {
	d := &Document{
		Name:        p.name,
		Revision:    p.revision,
		Quantiles:   p.Quantiles(),
		Experts:     p.Experts(),
		Items:       p.Items(),
		Assessments: make(map[string]map[string][]*float64, len(p.experts)),
		Results:     p.ResultsList(),
	}
	for _, e := range p.experts {
		row := make(map[string][]*float64)
		for _, it := range p.items {
			v := p.values[cell{e.ID, it.ID}]
			if allNaN(v) {
				continue
			}
			row[it.ID] = toNullable(v)
		}
		if len(row) > 0 {
			d.Assessments[e.ID] = row
		}
	}
	return d
}

// FromDocument rebuilds a project, validating every entity on the way in.
func FromDocument(d *Document) (*Project, error) {
	if d == nil {
		return nil, fmt.Errorf("document required: %w", ErrInvalid)
	}
	p, err := New(d.Name, d.Quantiles)
	if err != nil {
		return nil, err
	}
	for _, it := range d.Items {
		c := it.clone()
		c.Realization, c.Quantiles = nil, nil
		c.LowerBound, c.UpperBound = nil, nil
		c.LowerOvershoot, c.UpperOvershoot = nil, nil
		if err := p.addItem(&c); err != nil {
			return nil, err
		}
		if err := p.loadItem(&it); err != nil {
			return nil, err
		}
	}
	for _, e := range d.Experts {
		c := e.clone()
		if c.Role == "" {
			c.Role = RoleActual
		}
		c.UserWeight = nil
		if err := p.addExpert(&c); err != nil {
			return nil, err
		}
		if err := p.SetUserWeight(c.ID, e.UserWeight); err != nil {
			return nil, err
		}
	}
	for expertID, row := range d.Assessments {
		for itemID, v := range row {
			if err := p.SetAssessment(expertID, itemID, fromNullable(v)); err != nil {
				return nil, err
			}
		}
	}
	for _, r := range d.Results {
		if r == nil {
			continue
		}
		p.results = append(p.results, r.Clone())
	}
	// keep counting from the stored revision so callers can detect changes
	if d.Revision > 0 {
		p.revision = d.Revision
	}
	return p, nil
}

// loadItem applies the stored item settings through their setters.
func (p *Project) loadItem(it *Item) error {
	if err := p.SetRealization(it.ID, it.Realization); err != nil {
		return err
	}
	if err := p.SetItemBounds(it.ID, it.LowerBound, it.UpperBound); err != nil {
		return err
	}
	if err := p.SetItemOvershoots(it.ID, it.LowerOvershoot, it.UpperOvershoot); err != nil {
		return err
	}
	if len(it.Quantiles) > 0 {
		return p.SetItemQuantiles(it.ID, it.Quantiles)
	}
	return nil
}

// Encode writes the project in the given format.
func Encode(w io.Writer, p *Project, f Format) error {
	if p == nil {
		return fmt.Errorf("project required: %w", ErrInvalid)
	}
	d := p.Document()
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("format %q: %w", f, ErrInvalid)
	}
}

// Decode reads a project in the given format.
func Decode(r io.Reader, f Format) (*Project, error) {
	var d Document
	switch f {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&d); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&d); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	default:
		return nil, fmt.Errorf("format %q: %w", f, ErrInvalid)
	}
	return FromDocument(&d)
}

func allNaN(v []float64) bool {
	for _, x := range v {
		if !math.IsNaN(x) {
			return false
		}
	}
	return true
}

func toNullable(v []float64) []*float64 {
	out := make([]*float64, len(v))
	for i, x := range v {
		if !math.IsNaN(x) {
			out[i] = &x
		}
	}
	return out
}

func fromNullable(v []*float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if x == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *x
	}
	return out
}
