package project

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

const (
	DefaultOvershoot = 0.1
	DefaultCalPower  = 1.0
)

// Settings configure one decision maker calculation.
type Settings struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
	Weight     WeightType `json:"weight" yaml:"weight"`
	Overshoot  float64    `json:"overshoot" yaml:"overshoot"`
	Alpha      *float64   `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	CalPower   float64    `json:"calpower" yaml:"calpower"`
	Robustness bool       `json:"robustness,omitempty" yaml:"robustness,omitempty"`
}

// DefaultSettings returns global weights with an optimized alpha.
func DefaultSettings(id string) Settings {
	return Settings{
		ID:        id,
		Name:      id,
		Weight:    WeightGlobal,
		Overshoot: DefaultOvershoot,
		CalPower:  DefaultCalPower,
	}
}

// Validate checks the settings and fills in the name default.
func (s *Settings) Validate() error {
	if err := validateID(s.ID, MaxExpertIDLength); err != nil {
		return fmt.Errorf("decision maker: %w", err)
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if _, err := ParseWeightType(string(s.Weight)); err != nil {
		return err
	}
	if s.Overshoot < 0 {
		return fmt.Errorf("overshoot %v must be >= 0: %w", s.Overshoot, ErrInvalid)
	}
	if s.CalPower <= 0 || s.CalPower > 1 {
		return fmt.Errorf("calpower %v must be in (0, 1]: %w", s.CalPower, ErrInvalid)
	}
	if s.Alpha != nil && (*s.Alpha < 0 || *s.Alpha > 1) {
		return fmt.Errorf("alpha %v must be in [0, 1]: %w", *s.Alpha, ErrInvalid)
	}
	return nil
}

// ExpertScore holds the scores of one expert within a calculation.
type ExpertScore struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name,omitempty" yaml:"name,omitempty"`
	Role          Role    `json:"role" yaml:"role"`
	Calibration   float64 `json:"calibration" yaml:"calibration"`
	Computable    bool    `json:"computable" yaml:"computable"`
	InfoReal      float64 `json:"info_real" yaml:"info_real"`
	InfoTotal     float64 `json:"info_total" yaml:"info_total"`
	AnsweredSeeds int     `json:"answered_seeds" yaml:"answered_seeds"`
	Combined      float64 `json:"combined" yaml:"combined"`
	Weight        float64 `json:"weight" yaml:"weight"`
}

// CDFPoint is one knot of a piecewise linear distribution function.
type CDFPoint struct {
	Value       float64 `json:"value" yaml:"value"`
	Probability float64 `json:"p" yaml:"p"`
}

// ItemResult is the decision maker distribution for one item.
type ItemResult struct {
	ID          string             `json:"id" yaml:"id"`
	Seed        bool               `json:"seed,omitempty" yaml:"seed,omitempty"`
	Realization *float64           `json:"realization,omitempty" yaml:"realization,omitempty"`
	Scale       Scale              `json:"scale" yaml:"scale"`
	Computable  bool               `json:"computable" yaml:"computable"`
	Lower       float64            `json:"lower" yaml:"lower"`
	Upper       float64            `json:"upper" yaml:"upper"`
	Levels      []float64          `json:"levels" yaml:"levels"`
	Values      []float64          `json:"values,omitempty" yaml:"values,omitempty"`
	CDF         []CDFPoint         `json:"cdf,omitempty" yaml:"cdf,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// RobustnessEntry is the decision maker score with a set of experts or seed items left out.
type RobustnessEntry struct {
	Excluded         []string `json:"excluded" yaml:"excluded"`
	Computable       bool     `json:"computable" yaml:"computable"`
	Reason           string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	InfoTotal        float64  `json:"info_total" yaml:"info_total"`
	InfoReal         float64  `json:"info_real" yaml:"info_real"`
	Calibration      float64  `json:"calibration" yaml:"calibration"`
	DeltaInfoTotal   float64  `json:"delta_info_total" yaml:"delta_info_total"`
	DeltaInfoReal    float64  `json:"delta_info_real" yaml:"delta_info_real"`
	DeltaCalibration float64  `json:"delta_calibration" yaml:"delta_calibration"`
}

// Results is the immutable outcome of one decision maker calculation.
type Results struct {
	Settings         Settings          `json:"settings" yaml:"settings"`
	Optimized        bool              `json:"optimized,omitempty" yaml:"optimized,omitempty"`
	Quantiles        []float64         `json:"quantiles" yaml:"quantiles"`
	Experts          []ExpertScore     `json:"experts" yaml:"experts"`
	Items            []ItemResult      `json:"items" yaml:"items"`
	Skipped          []string          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	ExpertRobustness []RobustnessEntry `json:"expert_robustness,omitempty" yaml:"expert_robustness,omitempty"`
	ItemRobustness   []RobustnessEntry `json:"item_robustness,omitempty" yaml:"item_robustness,omitempty"`
	CreatedAt        time.Time         `json:"created_at" yaml:"created_at"`
}

// DM returns the score row of the decision maker, which is always last.
func (r *Results) DM() (ExpertScore, bool) {
	if r == nil || len(r.Experts) == 0 {
		return ExpertScore{}, false
	}
	last := r.Experts[len(r.Experts)-1]
	return last, last.Role == RoleDM
}

// Item returns the result for one item.
func (r *Results) Item(id string) (ItemResult, bool) {
	i := slices.IndexFunc(r.Items, func(it ItemResult) bool { return it.ID == id })
	if i < 0 {
		return ItemResult{}, false
	}
	return r.Items[i], true
}

// Clone returns a deep copy.
func (r *Results) Clone() *Results {
	if r == nil {
		return nil
	}
	c := *r
	c.Settings.Alpha = clonePtr(r.Settings.Alpha)
	c.Quantiles = slices.Clone(r.Quantiles)
	c.Experts = slices.Clone(r.Experts)
	c.Skipped = slices.Clone(r.Skipped)
	c.Items = make([]ItemResult, len(r.Items))
	for i, it := range r.Items {
		it.Realization = clonePtr(it.Realization)
		it.Levels = slices.Clone(it.Levels)
		it.Values = slices.Clone(it.Values)
		it.CDF = slices.Clone(it.CDF)
		it.Weights = maps.Clone(it.Weights)
		c.Items[i] = it
	}
	c.ExpertRobustness = cloneEntries(r.ExpertRobustness)
	c.ItemRobustness = cloneEntries(r.ItemRobustness)
	if r.Items == nil {
		c.Items = nil
	}
	return &c
}

func cloneEntries(list []RobustnessEntry) []RobustnessEntry {
	if list == nil {
		return nil
	}
	out := make([]RobustnessEntry, len(list))
	for i, e := range list {
		e.Excluded = slices.Clone(e.Excluded)
		out[i] = e
	}
	return out
}

// SaveDecisionMaker adds the decision maker expert, its assessments and its
// results. With overwrite an existing decision maker with the same ID is replaced;
// an actual expert is never replaced.
func (p *Project) SaveDecisionMaker(r *Results, values map[string][]float64, overwrite bool) error {
	if r == nil {
		return fmt.Errorf("results required: %w", ErrInvalid)
	}
	id := r.Settings.ID
	if i := p.expertIndex(id); i >= 0 {
		if !overwrite {
			return fmt.Errorf("decision maker %q: %w", id, ErrDuplicate)
		}
		if !p.experts[i].IsDM() {
			return fmt.Errorf("expert %q is not a decision maker and cannot be overwritten: %w", id, ErrInvalid)
		}
		if err := p.RemoveExpert(id); err != nil {
			return err
		}
	}
	for itemID, v := range values {
		if p.itemIndex(itemID) < 0 {
			return fmt.Errorf("decision maker values for item %q: %w", itemID, ErrNotFound)
		}
		if len(v) != len(p.quantiles) {
			return fmt.Errorf("decision maker values for item %q: %w", itemID, ErrInvalid)
		}
	}

	if err := p.addExpert(&Expert{ID: id, Name: r.Settings.Name, Role: RoleDM}); err != nil {
		return err
	}
	for itemID, v := range values {
		p.values[cell{id, itemID}] = slices.Clone(v)
	}
	p.results = slices.DeleteFunc(p.results, func(x *Results) bool { return x.Settings.ID == id })
	p.results = append(p.results, r.Clone())
	return nil
}

// Results returns a copy of the results stored for the decision maker ID.
func (p *Project) Results(id string) (*Results, error) {
	for _, r := range p.results {
		if r.Settings.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("results %q: %w", id, ErrNotFound)
}

// ResultsList returns copies of all stored results in calculation order.
func (p *Project) ResultsList() []*Results {
	list := make([]*Results, 0, len(p.results))
	for _, r := range p.results {
		list = append(list, r.Clone())
	}
	return list
}

// RemoveResults deletes the results and the decision maker expert they produced.
func (p *Project) RemoveResults(id string) error {
	i := slices.IndexFunc(p.results, func(x *Results) bool { return x.Settings.ID == id })
	if i < 0 {
		return fmt.Errorf("results %q: %w", id, ErrNotFound)
	}
	p.results = slices.Delete(p.results, i, i+1)
	if e, err := p.expert(id); err == nil && e.IsDM() {
		return p.RemoveExpert(id)
	}
	p.touch()
	return nil
}
