package cooke

import (
	"math"
	"slices"

	"github.com/mchmarny/sejctl/pkg/project"
)

type panelExpert struct {
	id         string
	name       string
	userWeight *float64
}

type panelItem struct {
	id          string
	seed        bool
	realization float64
	scale       project.Scale
	use         []bool
	lowerBound  *float64
	upperBound  *float64
	lowerOver   *float64
	upperOver   *float64
}

func (it panelItem) isLog() bool {
	return it.scale == project.ScaleLog
}

// levels returns the used probability levels of the item.
func (it panelItem) levels(all []float64) []float64 {
	out := make([]float64, 0, len(all))
	for i, q := range all {
		if it.use[i] {
			out = append(out, q)
		}
	}
	return out
}

// panel is an immutable snapshot of the included actual experts and
// included items of a project. Every calculation works on its own panel.
type panel struct {
	levels  []float64
	experts []panelExpert
	items   []panelItem
	// values[e][i] holds the expert's raw values for the item at the project levels.
	values [][][]float64
}

func snapshot(p *project.Project) *panel {
	pn := &panel{levels: p.Quantiles()}
	for _, it := range p.Items() {
		if it.Excluded {
			continue
		}
		use, _ := p.UsedLevels(it.ID)
		pi := panelItem{
			id:         it.ID,
			seed:       it.IsSeed(),
			scale:      it.Scale,
			use:        use,
			lowerBound: it.LowerBound,
			upperBound: it.UpperBound,
			lowerOver:  it.LowerOvershoot,
			upperOver:  it.UpperOvershoot,
		}
		if it.Realization != nil {
			pi.realization = *it.Realization
		}
		pn.items = append(pn.items, pi)
	}
	for _, e := range p.Experts() {
		if e.Excluded || e.IsDM() {
			continue
		}
		row := make([][]float64, len(pn.items))
		for i, it := range pn.items {
			v, err := p.Assessment(e.ID, it.id)
			if err != nil {
				v = make([]float64, len(pn.levels))
				for k := range v {
					v[k] = math.NaN()
				}
			}
			row[i] = v
		}
		pn.experts = append(pn.experts, panelExpert{id: e.ID, name: e.Name, userWeight: e.UserWeight})
		pn.values = append(pn.values, row)
	}
	return pn
}

// withExperts returns a panel restricted to the experts at the given indexes.
func (pn *panel) withExperts(idx []int) *panel {
	c := &panel{levels: pn.levels, items: pn.items}
	for _, e := range idx {
		c.experts = append(c.experts, pn.experts[e])
		c.values = append(c.values, pn.values[e])
	}
	return c
}

// withoutItems returns a panel without the items whose IDs are listed.
func (pn *panel) withoutItems(ids []string) *panel {
	c := &panel{levels: pn.levels, experts: pn.experts}
	keep := make([]int, 0, len(pn.items))
	for i, it := range pn.items {
		if slices.Contains(ids, it.id) {
			continue
		}
		keep = append(keep, i)
		c.items = append(c.items, it)
	}
	c.values = make([][][]float64, len(pn.values))
	for e, row := range pn.values {
		r := make([][]float64, len(keep))
		for k, i := range keep {
			r[k] = row[i]
		}
		c.values[e] = r
	}
	return c
}

func (pn *panel) seedIDs() []string {
	var ids []string
	for _, it := range pn.items {
		if it.seed {
			ids = append(ids, it.id)
		}
	}
	return ids
}

func (pn *panel) expertIDs() []string {
	ids := make([]string, len(pn.experts))
	for i, e := range pn.experts {
		ids[i] = e.id
	}
	return ids
}

// used returns the values of expert e at the used levels of item i,
// in the background space of the item, and whether every level was answered.
func (pn *panel) used(e, i int) ([]float64, bool, error) {
	return usedValues(pn.values[e][i], pn.items[i])
}

func usedValues(raw []float64, it panelItem) ([]float64, bool, error) {
	out := make([]float64, 0, len(raw))
	for k, v := range raw {
		if !it.use[k] {
			continue
		}
		if math.IsNaN(v) {
			return nil, false, nil
		}
		if it.isLog() {
			if v <= 0 {
				return nil, false, newError(KindData, "log transform",
					"value %v is not positive on a log scale item", v).withItem(it.id)
			}
			v = math.Log(v)
		}
		out = append(out, v)
	}
	return out, len(out) > 0, nil
}

// answered reports whether expert e gave every used value of item i.
func (pn *panel) answered(e, i int) bool {
	for k, v := range pn.values[e][i] {
		if pn.items[i].use[k] && math.IsNaN(v) {
			return false
		}
	}
	return slices.Contains(pn.items[i].use, true)
}

// autoExclude drops experts that cannot contribute: without an answered seed
// item for calibration schemes, without any answer otherwise.
func (pn *panel) autoExclude(needSeeds bool) (*panel, []string) {
	var keep []int
	var skipped []string
	for e := range pn.experts {
		ok := false
		for i, it := range pn.items {
			if needSeeds && !it.seed {
				continue
			}
			if pn.answered(e, i) {
				ok = true
				break
			}
		}
		if ok {
			keep = append(keep, e)
			continue
		}
		skipped = append(skipped, pn.experts[e].id)
	}
	if len(skipped) == 0 {
		return pn, nil
	}
	return pn.withExperts(keep), skipped
}
