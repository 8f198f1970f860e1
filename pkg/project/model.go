package project

import (
	"fmt"
	"slices"
	"strings"
)

// Role distinguishes elicited experts from synthesized decision makers.
type Role string

const (
	RoleActual Role = "actual"
	RoleDM     Role = "dm"
)

// Scale is the background measure of an item.
type Scale string

const (
	ScaleUniform Scale = "uni"
	ScaleLog     Scale = "log"
)

// ParseScale accepts "uni", "uniform", "lin" or "log".
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uni", "uniform", "lin", "linear":
		return ScaleUniform, nil
	case "log":
		return ScaleLog, nil
	default:
		return "", fmt.Errorf("scale %q: %w", s, ErrInvalid)
	}
}

// Validate returns an error for an unknown scale.
func (s Scale) Validate() error {
	if s != ScaleUniform && s != ScaleLog {
		return fmt.Errorf("scale %q: %w", s, ErrInvalid)
	}
	return nil
}

// Expert is a member of the panel, or a decision maker produced by a calculation.
type Expert struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Role       Role     `json:"role" yaml:"role"`
	Excluded   bool     `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	UserWeight *float64 `json:"user_weight,omitempty" yaml:"user_weight,omitempty"`
}

// IsDM reports whether the expert was synthesized by a calculation.
func (e Expert) IsDM() bool {
	return e.Role == RoleDM
}

func (e Expert) clone() Expert {
	e.UserWeight = clonePtr(e.UserWeight)
	return e
}

// Item is a question put to the panel. Items with a realization are seed items.
type Item struct {
	ID             string    `json:"id" yaml:"id"`
	Question       string    `json:"question,omitempty" yaml:"question,omitempty"`
	Unit           string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Scale          Scale     `json:"scale" yaml:"scale"`
	Realization    *float64  `json:"realization,omitempty" yaml:"realization,omitempty"`
	Excluded       bool      `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	LowerBound     *float64  `json:"lower_bound,omitempty" yaml:"lower_bound,omitempty"`
	UpperBound     *float64  `json:"upper_bound,omitempty" yaml:"upper_bound,omitempty"`
	LowerOvershoot *float64  `json:"lower_overshoot,omitempty" yaml:"lower_overshoot,omitempty"`
	UpperOvershoot *float64  `json:"upper_overshoot,omitempty" yaml:"upper_overshoot,omitempty"`
	Quantiles      []float64 `json:"quantiles,omitempty" yaml:"quantiles,omitempty"`
}

// IsSeed reports whether the item has a known realization.
func (i Item) IsSeed() bool {
	return i.Realization != nil
}

func (i Item) clone() Item {
	i.Realization = clonePtr(i.Realization)
	i.LowerBound = clonePtr(i.LowerBound)
	i.UpperBound = clonePtr(i.UpperBound)
	i.LowerOvershoot = clonePtr(i.LowerOvershoot)
	i.UpperOvershoot = clonePtr(i.UpperOvershoot)
	i.Quantiles = slices.Clone(i.Quantiles)
	return i
}

// WeightType selects how expert weights are derived.
type WeightType string

const (
	WeightEqual  WeightType = "equal"
	WeightUser   WeightType = "user"
	WeightGlobal WeightType = "global"
	WeightItem   WeightType = "item"
)

// ParseWeightType parses a weight scheme name, case insensitive.
func ParseWeightType(s string) (WeightType, error) {
	w := WeightType(strings.ToLower(strings.TrimSpace(s)))
	switch w {
	case WeightEqual, WeightUser, WeightGlobal, WeightItem:
		return w, nil
	default:
		return "", fmt.Errorf("weight type %q (expected equal, user, global or item): %w", s, ErrInvalid)
	}
}

// UsesCalibration reports whether the scheme needs seed-item scoring.
func (w WeightType) UsesCalibration() bool {
	return w == WeightGlobal || w == WeightItem
}
