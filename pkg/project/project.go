package project

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

const (
	// MaxExpertIDLength is the longest expert ID the legacy exchange format can carry.
	MaxExpertIDLength = 8
	// MaxItemIDLength is the longest item ID the legacy exchange format can carry.
	MaxItemIDLength = 14
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrInvalid   = errors.New("invalid value")

	// DefaultQuantiles are the levels used by the classical 3-point elicitation.
	DefaultQuantiles = []float64{0.05, 0.5, 0.95}
)

type cell struct {
	expert string
	item   string
}

// Project holds the experts, items and assessments of one elicitation
// together with the decision maker results computed from them.
// A Project is not safe for concurrent mutation; callers serialize writes.
type Project struct {
	name      string
	quantiles []float64
	experts   []*Expert
	items     []*Item
	values    map[cell][]float64
	results   []*Results
	revision  uint64
}

// New creates an empty project using the given quantile levels.
func New(name string, quantiles []float64) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required: %w", ErrInvalid)
	}
	if len(quantiles) == 0 {
		quantiles = DefaultQuantiles
	}
	if err := validateLevels(quantiles); err != nil {
		return nil, err
	}
	return &Project{
		name:      name,
		quantiles: slices.Clone(quantiles),
		values:    make(map[cell][]float64),
	}, nil
}

func validateLevels(levels []float64) error {
	for i, q := range levels {
		if math.IsNaN(q) || q <= 0 || q >= 1 {
			return fmt.Errorf("quantile %v must be in (0, 1): %w", q, ErrInvalid)
		}
		if i > 0 && q <= levels[i-1] {
			return fmt.Errorf("quantiles must be strictly increasing (%v after %v): %w", q, levels[i-1], ErrInvalid)
		}
	}
	return nil
}

// Name returns the project name.
func (p *Project) Name() string {
	return p.name
}

// Quantiles returns a copy of the project quantile levels.
func (p *Project) Quantiles() []float64 {
	return slices.Clone(p.quantiles)
}

// Revision increases with every mutation of experts, items or assessments.
func (p *Project) Revision() uint64 {
	return p.revision
}

func (p *Project) touch() {
	p.revision++
}

func (p *Project) expertIndex(id string) int {
	return slices.IndexFunc(p.experts, func(e *Expert) bool { return e.ID == id })
}

func (p *Project) itemIndex(id string) int {
	return slices.IndexFunc(p.items, func(i *Item) bool { return i.ID == id })
}

func (p *Project) expert(id string) (*Expert, error) {
	i := p.expertIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("expert %q: %w", id, ErrNotFound)
	}
	return p.experts[i], nil
}

func (p *Project) item(id string) (*Item, error) {
	i := p.itemIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	return p.items[i], nil
}

func nanValues(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}

// Experts returns copies of all experts, decision makers included, in project order.
func (p *Project) Experts() []Expert {
	list := make([]Expert, 0, len(p.experts))
	for _, e := range p.experts {
		list = append(list, e.clone())
	}
	return list
}

// Expert returns a copy of the expert with the given ID.
func (p *Project) Expert(id string) (Expert, error) {
	e, err := p.expert(id)
	if err != nil {
		return Expert{}, err
	}
	return e.clone(), nil
}

// Items returns copies of all items in project order.
func (p *Project) Items() []Item {
	list := make([]Item, 0, len(p.items))
	for _, it := range p.items {
		list = append(list, it.clone())
	}
	return list
}

// Item returns a copy of the item with the given ID.
func (p *Project) Item(id string) (Item, error) {
	it, err := p.item(id)
	if err != nil {
		return Item{}, err
	}
	return it.clone(), nil
}

// AddExpert adds an actual expert with empty assessments for every item.
func (p *Project) AddExpert(id, name string) error {
	return p.addExpert(&Expert{ID: id, Name: name, Role: RoleActual})
}

func (p *Project) addExpert(e *Expert) error {
	if err := validateID(e.ID, MaxExpertIDLength); err != nil {
		return fmt.Errorf("expert: %w", err)
	}
	if p.expertIndex(e.ID) >= 0 {
		return fmt.Errorf("expert %q: %w", e.ID, ErrDuplicate)
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	p.experts = append(p.experts, e)
	for _, it := range p.items {
		p.values[cell{e.ID, it.ID}] = nanValues(len(p.quantiles))
	}
	p.touch()
	return nil
}

// RemoveExpert deletes the expert and all of its assessments.
func (p *Project) RemoveExpert(id string) error {
	i := p.expertIndex(id)
	if i < 0 {
		return fmt.Errorf("expert %q: %w", id, ErrNotFound)
	}
	p.experts = slices.Delete(p.experts, i, i+1)
	for _, it := range p.items {
		delete(p.values, cell{id, it.ID})
	}
	p.touch()
	return nil
}

// SetExpertExcluded toggles whether the expert takes part in calculations.
func (p *Project) SetExpertExcluded(id string, excluded bool) error {
	e, err := p.expert(id)
	if err != nil {
		return err
	}
	e.Excluded = excluded
	p.touch()
	return nil
}

// SetUserWeight assigns (or clears, with nil) the user defined weight.
func (p *Project) SetUserWeight(id string, w *float64) error {
	e, err := p.expert(id)
	if err != nil {
		return err
	}
	if w != nil && (math.IsNaN(*w) || math.IsInf(*w, 0)) {
		return fmt.Errorf("user weight for %q: %w", id, ErrInvalid)
	}
	e.UserWeight = clonePtr(w)
	p.touch()
	return nil
}

// AddItem adds an item (target until a realization is set) with empty
// assessments for every expert.
func (p *Project) AddItem(id, question string, scale Scale) error {
	return p.addItem(&Item{ID: id, Question: question, Scale: scale})
}

func (p *Project) addItem(it *Item) error {
	if err := validateID(it.ID, MaxItemIDLength); err != nil {
		return fmt.Errorf("item: %w", err)
	}
	if p.itemIndex(it.ID) >= 0 {
		return fmt.Errorf("item %q: %w", it.ID, ErrDuplicate)
	}
	if it.Scale == "" {
		it.Scale = ScaleUniform
	}
	if err := it.Scale.Validate(); err != nil {
		return err
	}
	p.items = append(p.items, it)
	for _, e := range p.experts {
		p.values[cell{e.ID, it.ID}] = nanValues(len(p.quantiles))
	}
	p.touch()
	return nil
}

// RemoveItem deletes the item and all assessments of it.
func (p *Project) RemoveItem(id string) error {
	i := p.itemIndex(id)
	if i < 0 {
		return fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	p.items = slices.Delete(p.items, i, i+1)
	for _, e := range p.experts {
		delete(p.values, cell{e.ID, id})
	}
	p.touch()
	return nil
}

// SetItemExcluded toggles whether the item takes part in calculations.
func (p *Project) SetItemExcluded(id string, excluded bool) error {
	it, err := p.item(id)
	if err != nil {
		return err
	}
	it.Excluded = excluded
	p.touch()
	return nil
}

// SetItemText updates the question and unit of the item.
func (p *Project) SetItemText(id, question, unit string) error {
	it, err := p.item(id)
	if err != nil {
		return err
	}
	it.Question, it.Unit = question, unit
	p.touch()
	return nil
}

// SetRealization sets the true outcome, turning the item into a seed item.
// A nil value turns it back into a target item.
func (p *Project) SetRealization(id string, v *float64) error {
	it, err := p.item(id)
	if err != nil {
		return err
	}
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
		return fmt.Errorf("realization for %q: %w", id, ErrInvalid)
	}
	it.Realization = clonePtr(v)
	p.touch()
	return nil
}

// SetScale sets the background measure scale of the item.
func (p *Project) SetScale(id string, s Scale) error {
	if err := s.Validate(); err != nil {
		return err
	}
	it, err := p.item(id)
	if err != nil {
		return err
	}
	it.Scale = s
	p.touch()
	return nil
}

// SetItemBounds sets hard limits on the intrinsic range of the item.
func (p *Project) SetItemBounds(id string, lower, upper *float64) error {
	it, err := p.item(id)
	if err != nil {
		return err
	}
	for _, v := range []*float64{lower, upper} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("bounds for %q must be finite: %w", id, ErrInvalid)
		}
	}
	if lower != nil && upper != nil && *lower >= *upper {
		return fmt.Errorf("bounds for %q: lower %v not below upper %v: %w", id, *lower, *upper, ErrInvalid)
	}
	it.LowerBound, it.UpperBound = clonePtr(lower), clonePtr(upper)
	p.touch()
	return nil
}

// SetItemOvershoots overrides the calculation overshoot for the item.
func (p *Project) SetItemOvershoots(id string, lower, upper *float64) error {
	it, err := p.item(id)
	if err != nil {
		return err
	}
	for _, v := range []*float64{lower, upper} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			return fmt.Errorf("overshoot for %q must be finite and >= 0: %w", id, ErrInvalid)
		}
	}
	it.LowerOvershoot, it.UpperOvershoot = clonePtr(lower), clonePtr(upper)
	p.touch()
	return nil
}

// SetItemQuantiles restricts the item to a subset of the project levels.
// An empty list means the item uses every project level.
func (p *Project) SetItemQuantiles(id string, levels []float64) error {
	it, err := p.item(id)
	if err != nil {
		return err
	}
	for _, q := range levels {
		if !slices.Contains(p.quantiles, q) {
			return fmt.Errorf("item %q: quantile %v is not a project level: %w", id, q, ErrInvalid)
		}
	}
	if err := validateLevels(levels); err != nil {
		return err
	}
	if len(levels) == len(p.quantiles) {
		levels = nil
	}
	it.Quantiles = slices.Clone(levels)
	p.touch()
	return nil
}

// UsedLevels returns the mask of project levels the item uses.
func (p *Project) UsedLevels(itemID string) ([]bool, error) {
	it, err := p.item(itemID)
	if err != nil {
		return nil, err
	}
	return p.usedLevels(it), nil
}

func (p *Project) usedLevels(it *Item) []bool {
	use := make([]bool, len(p.quantiles))
	for i, q := range p.quantiles {
		use[i] = len(it.Quantiles) == 0 || slices.Contains(it.Quantiles, q)
	}
	return use
}

// SetAssessment stores the expert's values for the item, aligned with the
// project quantile levels. NaN marks a level that was not answered.
// Answered values must be non-decreasing.
func (p *Project) SetAssessment(expertID, itemID string, values []float64) error {
	if _, err := p.expert(expertID); err != nil {
		return err
	}
	if _, err := p.item(itemID); err != nil {
		return err
	}
	if len(values) != len(p.quantiles) {
		return fmt.Errorf("assessment %s/%s has %d values, expected %d: %w",
			expertID, itemID, len(values), len(p.quantiles), ErrInvalid)
	}
	if err := checkMonotonic(values); err != nil {
		return fmt.Errorf("assessment %s/%s: %w", expertID, itemID, err)
	}
	p.values[cell{expertID, itemID}] = slices.Clone(values)
	p.touch()
	return nil
}

func checkMonotonic(values []float64) error {
	prev := math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsInf(v, 0) {
			return fmt.Errorf("value %v is not finite: %w", v, ErrInvalid)
		}
		if v < prev {
			return fmt.Errorf("values must be non-decreasing (%v after %v): %w", v, prev, ErrInvalid)
		}
		prev = v
	}
	return nil
}

// Assessment returns a copy of the expert's values for the item.
func (p *Project) Assessment(expertID, itemID string) ([]float64, error) {
	v, ok := p.values[cell{expertID, itemID}]
	if !ok {
		return nil, fmt.Errorf("assessment %s/%s: %w", expertID, itemID, ErrNotFound)
	}
	return slices.Clone(v), nil
}

// AddQuantile inserts a new project level; existing assessments get NaN at it.
// Items restricted to a subset of levels do not start using the new level.
func (p *Project) AddQuantile(q float64) error {
	if slices.Contains(p.quantiles, q) {
		return fmt.Errorf("quantile %v: %w", q, ErrDuplicate)
	}
	pos, _ := slices.BinarySearch(p.quantiles, q)
	next := slices.Insert(slices.Clone(p.quantiles), pos, q)
	if err := validateLevels(next); err != nil {
		return err
	}
	for _, it := range p.items {
		if len(it.Quantiles) == 0 {
			it.Quantiles = slices.Clone(p.quantiles)
		}
	}
	p.quantiles = next
	for k, v := range p.values {
		p.values[k] = slices.Insert(v, pos, math.NaN())
	}
	p.touch()
	return nil
}

// RemoveQuantile drops a project level and the values recorded at it.
func (p *Project) RemoveQuantile(q float64) error {
	pos := slices.Index(p.quantiles, q)
	if pos < 0 {
		return fmt.Errorf("quantile %v: %w", q, ErrNotFound)
	}
	if len(p.quantiles) == 1 {
		return fmt.Errorf("cannot remove the last quantile: %w", ErrInvalid)
	}
	for _, it := range p.items {
		if len(it.Quantiles) == 1 && it.Quantiles[0] == q {
			return fmt.Errorf("item %q uses only quantile %v: %w", it.ID, q, ErrInvalid)
		}
	}
	p.quantiles = slices.Delete(p.quantiles, pos, pos+1)
	for _, it := range p.items {
		if i := slices.Index(it.Quantiles, q); i >= 0 {
			it.Quantiles = slices.Delete(it.Quantiles, i, i+1)
		}
	}
	for k, v := range p.values {
		p.values[k] = slices.Delete(v, pos, pos+1)
	}
	p.touch()
	return nil
}

func validateID(id string, maxLen int) error {
	if id == "" {
		return fmt.Errorf("id is required: %w", ErrInvalid)
	}
	if len(id) > maxLen {
		return fmt.Errorf("id %q longer than %d characters: %w", id, maxLen, ErrInvalid)
	}
	return nil
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
