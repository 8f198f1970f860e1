package cooke

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"

	"github.com/mchmarny/sejctl/pkg/project"
	"golang.org/x/sync/errgroup"
)

// candidate is the decision maker synthesized at one alpha.
type candidate struct {
	alpha float64
	w     *weighting
	dists []distribution
	dm    score
}

// combined is the unnormalized global weight the decision maker would receive
// as a virtual expert.
func combined(sc score, alpha float64) float64 {
	if !sc.computable || sc.calibration < alpha {
		return 0
	}
	return sc.calibration * sc.infoReal
}

// synthesizeAt weighs the experts at alpha, pools every item and scores the
// resulting decision maker against the same background.
func (ev *evaluation) synthesizeAt(alpha float64) (*candidate, error) {
	pn := ev.pn
	w, err := pn.weigh(ev.scores, ev.settings.Weight, alpha)
	if err != nil {
		return nil, err
	}
	c := &candidate{alpha: alpha, w: w, dists: make([]distribution, len(pn.items))}
	for i := range pn.items {
		if c.dists[i], err = pn.synthesize(i, ev.bounds[i], w.item[i]); err != nil {
			return nil, err
		}
	}
	c.dm, err = pn.scoreAssessor(ev.bounds, ev.mask, func(i int) ([]float64, bool, error) {
		d := c.dists[i]
		return d.values, d.computable, nil
	})
	if err != nil {
		return nil, err
	}
	c.dm.calibrate(ev.mask, pn.levels, ev.nmin, ev.settings.CalPower)
	return c, nil
}

// alphaCandidates returns the distinct computable calibration scores, ascending.
func alphaCandidates(scores []score) []float64 {
	var list []float64
	for _, sc := range scores {
		if sc.computable {
			list = append(list, sc.calibration)
		}
	}
	slices.Sort(list)
	return slices.Compact(list)
}

// optimize evaluates every candidate alpha in parallel and returns the
// decision maker with the highest combined score. Ties keep the lower alpha.
func (ev *evaluation) optimize(ctx context.Context) (*candidate, error) {
	const op = "optimize alpha"
	alphas := alphaCandidates(ev.scores)
	if len(alphas) == 0 {
		return nil, newError(KindInsufficientData, op, "no expert has a computable calibration")
	}
	slog.Debug("optimizing alpha", "candidates", len(alphas))

	found := make([]*candidate, len(alphas))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, a := range alphas {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := ev.synthesizeAt(a)
			if err != nil {
				if errors.Is(err, ErrDegenerate) {
					return nil
				}
				return err
			}
			found[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var best *candidate
	bestScore := -1.0
	for _, c := range found {
		if c == nil {
			continue
		}
		if s := combined(c.dm, c.alpha); s > bestScore {
			best, bestScore = c, s
		}
	}
	if best == nil {
		return nil, newError(KindDegenerate, op, "every alpha candidate leaves a zero total weight")
	}
	slog.Debug("alpha optimized", "alpha", best.alpha, "combined", bestScore)
	return best, nil
}

// evaluation holds the state of one decision maker calculation on a panel.
type evaluation struct {
	pn       *panel
	settings project.Settings
	skipped  []string
	bounds   []bounds
	mask     []bool
	scores   []score
	nmin     int
	result   *candidate
}
