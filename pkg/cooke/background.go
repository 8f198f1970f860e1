package cooke

import (
	"math"
)

// bounds is the overshoot-extended intrinsic range of an item in its
// background space (log space for log scale items).
type bounds struct {
	lower float64
	upper float64
	ok    bool
}

func (b bounds) width() float64 {
	return b.upper - b.lower
}

// itemBounds computes the background range of every item from the answers of
// the panel experts and the realization of seed items, extended by overshoot
// and clipped to the item hard bounds. Items nobody answered get no bounds.
// A hard bound that cuts into the answers or the realization is a data error.
func (pn *panel) itemBounds(overshoot float64) ([]bounds, error) {
	out := make([]bounds, len(pn.items))
	for i, it := range pn.items {
		if it.seed && !finite(it.realization) {
			return nil, newError(KindData, "background measure",
				"realization %v is not a finite number", it.realization).withItem(it.id)
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for e := range pn.experts {
			for k, v := range pn.values[e][i] {
				if !it.use[k] || math.IsNaN(v) {
					continue
				}
				if math.IsInf(v, 0) {
					return nil, newError(KindData, "background measure",
						"value %v is not a finite number", v).withExpert(pn.experts[e].id).withItem(it.id)
				}
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
		}
		if it.seed {
			lo, hi = math.Min(lo, it.realization), math.Max(hi, it.realization)
		}
		if math.IsInf(lo, 1) {
			continue
		}

		if it.isLog() {
			if lo <= 0 {
				return nil, newError(KindData, "background measure",
					"value %v is not positive on a log scale item", lo).withItem(it.id)
			}
			lo, hi = math.Log(lo), math.Log(hi)
		}
		alo, ahi := lo, hi

		olo, ohi := overshoot, overshoot
		if it.lowerOver != nil {
			olo = *it.lowerOver
		}
		if it.upperOver != nil {
			ohi = *it.upperOver
		}
		if !(olo >= 0) || !(ohi >= 0) || math.IsInf(olo, 0) || math.IsInf(ohi, 0) {
			return nil, newError(KindData, "background measure",
				"overshoot (%v, %v) must be finite and non-negative", olo, ohi).withItem(it.id)
		}
		r := hi - lo
		lo -= olo * r
		hi += ohi * r

		if it.lowerBound != nil {
			if lb, ok := toBackground(*it.lowerBound, it.isLog()); ok {
				lo = math.Max(lo, lb)
			}
		}
		if it.upperBound != nil {
			ub, ok := toBackground(*it.upperBound, it.isLog())
			if !ok {
				return nil, newError(KindConfiguration, "background measure",
					"upper bound %v is not positive on a log scale item", *it.upperBound).withItem(it.id)
			}
			hi = math.Min(hi, ub)
		}
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return nil, newError(KindData, "background measure", "range is not a number").withItem(it.id)
		}
		if alo < lo || ahi > hi || lo > hi {
			return nil, newError(KindData, "background measure",
				"hard bounds [%v, %v] exclude answers in [%v, %v]",
				fromBackground(lo, it.isLog()), fromBackground(hi, it.isLog()),
				fromBackground(alo, it.isLog()), fromBackground(ahi, it.isLog())).withItem(it.id)
		}
		out[i] = bounds{lower: lo, upper: hi, ok: true}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func toBackground(v float64, isLog bool) (float64, bool) {
	if !isLog {
		return v, true
	}
	if v <= 0 {
		return 0, false
	}
	return math.Log(v), true
}

func fromBackground(v float64, isLog bool) float64 {
	if isLog {
		return math.Exp(v)
	}
	return v
}
