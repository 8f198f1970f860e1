package cooke

import (
	"math"
	"slices"
	"sort"

	"github.com/mchmarny/sejctl/pkg/project"
)

// interp evaluates the piecewise linear function through (xp, fp) at x.
// xp must be non-decreasing; with repeated knots the last one wins and values
// outside the knots are clamped to the end points. NaN in gives NaN out.
func interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if math.IsNaN(x) {
		return math.NaN()
	}
	if x < xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	j := sort.Search(n, func(i int) bool { return xp[i] > x }) - 1
	return fp[j] + (fp[j+1]-fp[j])*(x-xp[j])/(xp[j+1]-xp[j])
}

// distribution is the decision maker distribution of one item.
type distribution struct {
	computable bool
	// values are the quantiles at the used levels, in background space.
	values []float64
	grid   []float64
	cdf    []float64
}

// synthesize pools the experts' piecewise linear distribution functions of
// item i with the weights in col and inverts the pooled function at the item levels.
func (pn *panel) synthesize(i int, b bounds, col []float64) (distribution, error) {
	if col == nil || !b.ok {
		return distribution{}, nil
	}
	levels := pn.items[i].levels(pn.levels)
	fq := make([]float64, 0, len(levels)+2)
	fq = append(fq, 0)
	fq = append(fq, levels...)
	fq = append(fq, 1)

	answers := make([][]float64, len(pn.experts))
	grid := []float64{}
	for e := range pn.experts {
		if col[e] == 0 {
			continue
		}
		v, ok, err := pn.used(e, i)
		if err != nil {
			return distribution{}, err
		}
		if !ok {
			continue
		}
		answers[e] = v
		grid = append(grid, v...)
	}
	slices.Sort(grid)
	grid = slices.Compact(grid)
	grid = append([]float64{b.lower}, grid...)
	grid = append(grid, b.upper)
	if slices.ContainsFunc(grid, math.IsNaN) || !slices.IsSorted(grid) {
		return distribution{}, newError(KindData, "synthesis",
			"answers fall outside the range [%v, %v]", b.lower, b.upper).withItem(pn.items[i].id)
	}

	cdf := make([]float64, len(grid))
	knots := make([]float64, len(levels)+2)
	for e, v := range answers {
		if v == nil {
			continue
		}
		knots[0], knots[len(knots)-1] = b.lower, b.upper
		copy(knots[1:], v)
		for g, x := range grid {
			cdf[g] += col[e] * interp(x, knots, fq)
		}
	}

	d := distribution{computable: true, grid: grid, cdf: cdf}
	d.values = make([]float64, len(levels))
	for k, q := range levels {
		d.values[k] = interp(q, cdf, grid)
	}
	return d, nil
}

// itemResult converts a distribution to its original scale result.
func (pn *panel) itemResult(i int, b bounds, d distribution, col []float64) project.ItemResult {
	it := pn.items[i]
	r := project.ItemResult{
		ID:         it.id,
		Seed:       it.seed,
		Scale:      it.scale,
		Computable: d.computable,
		Levels:     it.levels(pn.levels),
	}
	if it.seed {
		v := it.realization
		r.Realization = &v
	}
	if b.ok {
		r.Lower, r.Upper = fromBackground(b.lower, it.isLog()), fromBackground(b.upper, it.isLog())
	}
	if !d.computable {
		return r
	}
	r.Values = make([]float64, len(d.values))
	for k, v := range d.values {
		r.Values[k] = fromBackground(v, it.isLog())
	}
	r.CDF = make([]project.CDFPoint, len(d.grid))
	for g, x := range d.grid {
		r.CDF[g] = project.CDFPoint{Value: fromBackground(x, it.isLog()), Probability: d.cdf[g]}
	}
	if col != nil {
		r.Weights = make(map[string]float64, len(col))
		for e, w := range col {
			if w > 0 {
				r.Weights[pn.experts[e].id] = w
			}
		}
	}
	return r
}

// assessment aligns the decision maker values with the project levels; NaN
// marks unused levels and items without a distribution.
func (pn *panel) assessment(i int, d distribution) []float64 {
	out := make([]float64, len(pn.levels))
	k := 0
	for l := range out {
		out[l] = math.NaN()
		if !pn.items[i].use[l] {
			continue
		}
		if d.computable {
			out[l] = fromBackground(d.values[k], pn.items[i].isLog())
		}
		k++
	}
	return out
}
