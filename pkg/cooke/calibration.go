package cooke

import (
	"errors"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"
)

// score holds the calibration and information of one assessor on a panel.
type score struct {
	info        []float64
	infoReal    float64
	infoTotal   float64
	counts      []int
	answered    int
	calibration float64
	computable  bool
}

// seedMask returns the level mask shared by all seed items. Calibration
// is only defined when every seed item uses the same levels.
func (pn *panel) seedMask() ([]bool, error) {
	var mask []bool
	for _, it := range pn.items {
		if !it.seed {
			continue
		}
		if mask == nil {
			mask = it.use
			continue
		}
		if !slices.Equal(mask, it.use) {
			return nil, newError(KindData, "calibration",
				"seed items must use the same quantile levels").withItem(it.id)
		}
	}
	return mask, nil
}

// hitBin returns the interquantile bin the realization falls into.
func hitBin(values []float64, realization float64) int {
	for k, v := range values {
		if realization <= v {
			return k
		}
	}
	return len(values)
}

// calibrationScore is the p-value of the likelihood ratio statistic of the
// hit counts against the bin probabilities p.
func calibrationScore(counts []int, p []float64, nmin int, calPower float64) float64 {
	n := 0
	for _, c := range counts {
		n += c
	}
	mi := 0.0
	for k, c := range counts {
		if c == 0 {
			continue
		}
		s := float64(c) / float64(n)
		mi += s * math.Log(s/p[k])
	}
	e := math.Max(0, 2*float64(nmin)*mi*calPower)
	chi := distuv.ChiSquared{K: float64(len(counts) - 1)}
	return 1 - chi.CDF(e)
}

// scoreAssessor scores one set of assessments (an expert, or a decision maker)
// against the panel items. assess returns the used values of item i in
// background space, or ok false when the item was not fully answered.
func (pn *panel) scoreAssessor(b []bounds, mask []bool, assess func(i int) ([]float64, bool, error)) (score, error) {
	sc := score{info: make([]float64, len(pn.items))}
	if mask != nil {
		sc.counts = make([]int, countTrue(mask)+1)
	}
	for i, it := range pn.items {
		values, ok, err := assess(i)
		if err != nil {
			return score{}, err
		}
		if !ok {
			continue
		}
		sc.info[i] = itemInformation(values, binProbabilities(it.levels(pn.levels)), b[i])
		if it.seed && sc.counts != nil {
			r := it.realization
			if it.isLog() {
				r = math.Log(r)
			}
			sc.counts[hitBin(values, r)]++
			sc.answered++
		}
	}
	sc.infoReal = meanNonZero(sc.info, func(i int) bool { return pn.items[i].seed })
	sc.infoTotal = meanNonZero(sc.info, func(int) bool { return true })
	return sc, nil
}

// calibrate fills in the calibration of sc using the panel minimum of answered seeds.
func (sc *score) calibrate(mask []bool, levels []float64, nmin int, calPower float64) {
	if sc.answered == 0 || nmin == 0 || mask == nil {
		sc.calibration, sc.computable = 0, false
		return
	}
	p := binProbabilities(maskLevels(levels, mask))
	sc.calibration = calibrationScore(sc.counts, p, nmin, calPower)
	sc.computable = true
}

// scoreExperts scores every panel expert and calibrates them against the
// smallest number of answered seed items in the panel.
func (pn *panel) scoreExperts(b []bounds, mask []bool, calPower float64) ([]score, int, error) {
	scores := make([]score, len(pn.experts))
	for e := range pn.experts {
		sc, err := pn.scoreAssessor(b, mask, func(i int) ([]float64, bool, error) {
			return pn.used(e, i)
		})
		if err != nil {
			var ce *Error
			if errors.As(err, &ce) && ce.Expert == "" {
				ce.Expert = pn.experts[e].id
			}
			return nil, 0, err
		}
		scores[e] = sc
	}
	nmin := minAnswered(scores)
	for e := range scores {
		scores[e].calibrate(mask, pn.levels, nmin, calPower)
	}
	return scores, nmin, nil
}

// minAnswered is the smallest non-zero number of answered seed items.
func minAnswered(scores []score) int {
	nmin := 0
	for _, sc := range scores {
		if sc.answered == 0 {
			continue
		}
		if nmin == 0 || sc.answered < nmin {
			nmin = sc.answered
		}
	}
	return nmin
}

func countTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

func maskLevels(levels []float64, mask []bool) []float64 {
	out := make([]float64, 0, len(levels))
	for i, q := range levels {
		if mask[i] {
			out = append(out, q)
		}
	}
	return out
}
