package cooke

import (
	"context"
	"errors"
	"runtime"
	"slices"

	"github.com/mchmarny/sejctl/pkg/project"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/combin"
)

// MaxRobustnessRuns caps the number of recalculations of one robustness table.
const MaxRobustnessRuns = 10000

type target int

const (
	byExpert target = iota
	byItem
)

func (t target) String() string {
	if t == byItem {
		return "item"
	}
	return "expert"
}

// notComputable reports errors that make a single robustness entry undefined
// without invalidating the whole table.
func notComputable(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrDegenerate) || errors.Is(err, ErrConfiguration)
}

// combinationCount is the number of subsets of size lo to hi of n elements.
func combinationCount(n, lo, hi int) float64 {
	total := 0.0
	for k := max(lo, 1); k <= min(hi, n); k++ {
		total += combin.GeneralizedBinomial(float64(n), float64(k))
	}
	return total
}

func combinations(n, lo, hi int) [][]int {
	var out [][]int
	for k := max(lo, 1); k <= min(hi, n); k++ {
		out = append(out, combin.Combinations(n, k)...)
	}
	return out
}

// robustness re-runs the calculation for every combination of lo to hi left
// out experts or seed items and reports the decision maker scores relative to base.
func robustness(ctx context.Context, pn *panel, s project.Settings, t target, base project.RobustnessEntry, lo, hi int) ([]project.RobustnessEntry, error) {
	op := t.String() + " robustness"
	if lo < 0 || hi < lo || hi == 0 {
		return nil, newError(KindConfiguration, op, "exclusion range [%d, %d] is invalid", lo, hi)
	}
	ids := pn.expertIDs()
	if t == byItem {
		ids = pn.seedIDs()
	}

	if c := combinationCount(len(ids), lo, hi); c > MaxRobustnessRuns {
		return nil, newError(KindConfiguration, op,
			"excluding %d to %d of %d needs %.0f runs, more than %d", lo, hi, len(ids), c, MaxRobustnessRuns)
	}

	combs := combinations(len(ids), lo, hi)
	entries := make([]project.RobustnessEntry, len(combs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, comb := range combs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e := project.RobustnessEntry{Excluded: make([]string, len(comb))}
			for k, c := range comb {
				e.Excluded[k] = ids[c]
			}

			var sub *panel
			if t == byItem {
				sub = pn.withoutItems(e.Excluded)
			} else {
				keep := make([]int, 0, len(ids))
				for k := range ids {
					if !slices.Contains(comb, k) {
						keep = append(keep, k)
					}
				}
				sub = pn.withExperts(keep)
			}

			ev, err := evaluate(ctx, sub, s)
			switch {
			case err != nil && notComputable(err):
				e.Reason = err.Error()
			case err != nil:
				return err
			case !ev.result.dm.computable:
				e.Reason = "decision maker calibration not computable"
			default:
				dm := ev.result.dm
				e.Computable = true
				e.InfoTotal, e.InfoReal, e.Calibration = dm.infoTotal, dm.infoReal, dm.calibration
				e.DeltaInfoTotal = dm.infoTotal - base.InfoTotal
				e.DeltaInfoReal = dm.infoReal - base.InfoReal
				e.DeltaCalibration = dm.calibration - base.Calibration
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if lo == 0 {
		base.Excluded = []string{}
		base.DeltaInfoTotal, base.DeltaInfoReal, base.DeltaCalibration = 0, 0, 0
		entries = append([]project.RobustnessEntry{base}, entries...)
	}
	return entries, nil
}

func robustnessTable(ctx context.Context, p *project.Project, s project.Settings, t target, lo, hi int) ([]project.RobustnessEntry, error) {
	if err := prepare(p, &s); err != nil {
		return nil, err
	}
	ev, err := evaluate(ctx, snapshot(p), s)
	if err != nil {
		return nil, err
	}
	dm := ev.result.dm
	base := project.RobustnessEntry{
		Computable:  dm.computable,
		InfoTotal:   dm.infoTotal,
		InfoReal:    dm.infoReal,
		Calibration: dm.calibration,
	}
	return robustness(ctx, ev.pn, s, t, base, lo, hi)
}

// CalculateExpertRobustness recomputes the decision maker with every combination
// of lo to hi experts left out. Entries follow combination order.
func CalculateExpertRobustness(ctx context.Context, p *project.Project, s project.Settings, lo, hi int) ([]project.RobustnessEntry, error) {
	return robustnessTable(ctx, p, s, byExpert, lo, hi)
}

// CalculateItemRobustness recomputes the decision maker with every combination
// of lo to hi seed items left out. Entries follow combination order.
func CalculateItemRobustness(ctx context.Context, p *project.Project, s project.Settings, lo, hi int) ([]project.RobustnessEntry, error) {
	return robustnessTable(ctx, p, s, byItem, lo, hi)
}

// BoxStats summarizes a sample for a box plot.
type BoxStats struct {
	N      int     `json:"n" yaml:"n"`
	Min    float64 `json:"min" yaml:"min"`
	Q1     float64 `json:"q1" yaml:"q1"`
	Median float64 `json:"median" yaml:"median"`
	Q3     float64 `json:"q3" yaml:"q3"`
	Max    float64 `json:"max" yaml:"max"`
}

// ProfileRow summarizes the decision maker scores for one exclusion count.
type ProfileRow struct {
	Excluded    int      `json:"excluded" yaml:"excluded"`
	Entries     int      `json:"entries" yaml:"entries"`
	InfoTotal   BoxStats `json:"info_total" yaml:"info_total"`
	InfoReal    BoxStats `json:"info_real" yaml:"info_real"`
	Calibration BoxStats `json:"calibration" yaml:"calibration"`
}

func boxStats(x []float64) BoxStats {
	if len(x) == 0 {
		return BoxStats{}
	}
	slices.Sort(x)
	return BoxStats{
		N:      len(x),
		Min:    x[0],
		Q1:     stat.Quantile(0.25, stat.LinInterp, x, nil),
		Median: stat.Quantile(0.5, stat.LinInterp, x, nil),
		Q3:     stat.Quantile(0.75, stat.LinInterp, x, nil),
		Max:    x[len(x)-1],
	}
}

// SensitivityProfile groups robustness entries by the number of excluded
// experts or items and summarizes the computable ones.
func SensitivityProfile(entries []project.RobustnessEntry) []ProfileRow {
	type sample struct {
		n                 int
		total, real, cals []float64
	}
	groups := map[int]*sample{}
	var counts []int
	for _, e := range entries {
		k := len(e.Excluded)
		g, ok := groups[k]
		if !ok {
			g = &sample{}
			groups[k] = g
			counts = append(counts, k)
		}
		g.n++
		if !e.Computable {
			continue
		}
		g.total = append(g.total, e.InfoTotal)
		g.real = append(g.real, e.InfoReal)
		g.cals = append(g.cals, e.Calibration)
	}
	slices.Sort(counts)

	rows := make([]ProfileRow, 0, len(counts))
	for _, k := range counts {
		g := groups[k]
		rows = append(rows, ProfileRow{
			Excluded:    k,
			Entries:     g.n,
			InfoTotal:   boxStats(g.total),
			InfoReal:    boxStats(g.real),
			Calibration: boxStats(g.cals),
		})
	}
	return rows
}
