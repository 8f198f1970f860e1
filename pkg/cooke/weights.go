package cooke

import (
	"github.com/mchmarny/sejctl/pkg/project"
)

// weighting is the outcome of a weight scheme on a panel.
type weighting struct {
	// expert is the normalized weight of each expert in the decision maker.
	expert []float64
	// item[i][e] is the weight of expert e on item i after dropping experts who
	// did not answer; nil when no weighted expert answered the item.
	item [][]float64
}

func (w *weighting) computableItems() int {
	n := 0
	for _, col := range w.item {
		if col != nil {
			n++
		}
	}
	return n
}

func userWeights(pn *panel) ([]float64, error) {
	const op = "user weights"
	basis := make([]float64, len(pn.experts))
	given, sum := 0, 0.0
	for e, ex := range pn.experts {
		if ex.userWeight == nil {
			continue
		}
		w := *ex.userWeight
		if w < 0 {
			return nil, newError(KindConfiguration, op, "negative weight %v", w).withExpert(ex.id)
		}
		basis[e] = w
		sum += w
		given++
	}
	if given == 0 {
		return nil, newError(KindConfiguration, op, "no user weights assigned")
	}
	if sum == 0 {
		return nil, newError(KindConfiguration, op, "all user weights are zero")
	}
	return basis, nil
}

// weigh derives expert and per item weights from the scores. For the
// calibration schemes experts with a calibration below alpha get zero weight.
func (pn *panel) weigh(scores []score, scheme project.WeightType, alpha float64) (*weighting, error) {
	const op = "weights"
	above := func(e int) bool {
		return scores[e].computable && scores[e].calibration >= alpha
	}

	var basis []float64
	switch scheme {
	case project.WeightEqual:
		basis = make([]float64, len(pn.experts))
		for e := range basis {
			basis[e] = 1
		}
	case project.WeightUser:
		var err error
		if basis, err = userWeights(pn); err != nil {
			return nil, err
		}
	case project.WeightGlobal, project.WeightItem:
		basis = make([]float64, len(pn.experts))
		for e := range basis {
			if above(e) {
				basis[e] = scores[e].calibration * scores[e].infoReal
			}
		}
	default:
		return nil, newError(KindConfiguration, op, "unknown weight type %q", scheme)
	}

	w := &weighting{
		expert: normalize(basis),
		item:   make([][]float64, len(pn.items)),
	}
	if w.expert == nil && scheme != project.WeightItem {
		return nil, newError(KindDegenerate, op, "all expert weights are zero")
	}

	for i := range pn.items {
		col := make([]float64, len(pn.experts))
		for e := range pn.experts {
			if !pn.answered(e, i) {
				continue
			}
			if scheme == project.WeightItem {
				if above(e) {
					col[e] = scores[e].calibration * scores[e].info[i]
				}
				continue
			}
			col[e] = basis[e]
		}
		w.item[i] = normalize(col)
	}
	if w.computableItems() == 0 {
		return nil, newError(KindDegenerate, op, "no item has a positive total weight")
	}
	if w.expert == nil {
		w.expert = make([]float64, len(pn.experts))
	}
	return w, nil
}

// normalize scales v to sum to one; nil when the sum is not positive.
func normalize(v []float64) []float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if !(sum > 0) {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
