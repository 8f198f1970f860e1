package cooke

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/sejctl/pkg/project"
)

// evaluate runs the complete chain on a panel: bounds, expert scores,
// weights (optimizing alpha when none is given) and synthesis.
func evaluate(ctx context.Context, pn *panel, s project.Settings) (*evaluation, error) {
	const op = "decision maker"
	needSeeds := s.Weight.UsesCalibration()

	pn, skipped := pn.autoExclude(needSeeds)
	for _, id := range skipped {
		slog.Debug("expert left out of calculation", "expert", id, "seeds_required", needSeeds)
	}
	if len(pn.experts) == 0 {
		return nil, newError(KindInsufficientData, op, "no expert has answered the required items")
	}
	if needSeeds && len(pn.seedIDs()) == 0 {
		return nil, newError(KindInsufficientData, op, "no included seed items")
	}

	ev := &evaluation{pn: pn, settings: s, skipped: skipped}
	var err error
	if ev.mask, err = pn.seedMask(); err != nil {
		return nil, err
	}
	if ev.bounds, err = pn.itemBounds(s.Overshoot); err != nil {
		return nil, err
	}
	if ev.scores, ev.nmin, err = pn.scoreExperts(ev.bounds, ev.mask, s.CalPower); err != nil {
		return nil, err
	}

	switch {
	case !needSeeds:
		ev.result, err = ev.synthesizeAt(0)
	case s.Alpha != nil:
		if top := maxCalibration(ev.scores); *s.Alpha > top {
			return nil, newError(KindConfiguration, op,
				"alpha %v is above the highest calibration score %v", *s.Alpha, top)
		}
		ev.result, err = ev.synthesizeAt(*s.Alpha)
	default:
		ev.result, err = ev.optimize(ctx)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func maxCalibration(scores []score) float64 {
	top := 0.0
	for _, sc := range scores {
		if sc.computable && sc.calibration > top {
			top = sc.calibration
		}
	}
	return top
}

// results builds the immutable snapshot of the evaluation.
func (ev *evaluation) results() *project.Results {
	pn, c, s := ev.pn, ev.result, ev.settings
	r := &project.Results{
		Settings:  s,
		Optimized: s.Weight.UsesCalibration() && s.Alpha == nil,
		Quantiles: pn.levels,
		Skipped:   ev.skipped,
		CreatedAt: time.Now().UTC(),
	}
	r.Settings.Alpha = nil
	if s.Weight.UsesCalibration() {
		a := c.alpha
		r.Settings.Alpha = &a
	}

	for e, ex := range pn.experts {
		sc := ev.scores[e]
		es := project.ExpertScore{
			ID:            ex.id,
			Name:          ex.name,
			Role:          project.RoleActual,
			Calibration:   sc.calibration,
			Computable:    sc.computable,
			InfoReal:      sc.infoReal,
			InfoTotal:     sc.infoTotal,
			AnsweredSeeds: sc.answered,
			Weight:        c.w.expert[e],
		}
		if s.Weight.UsesCalibration() {
			es.Combined = combined(sc, c.alpha)
		}
		r.Experts = append(r.Experts, es)
	}
	r.Experts = append(r.Experts, project.ExpertScore{
		ID:            s.ID,
		Name:          s.Name,
		Role:          project.RoleDM,
		Calibration:   c.dm.calibration,
		Computable:    c.dm.computable,
		InfoReal:      c.dm.infoReal,
		InfoTotal:     c.dm.infoTotal,
		AnsweredSeeds: c.dm.answered,
		Combined:      combined(c.dm, c.alpha),
	})

	for i := range pn.items {
		var col []float64
		if s.Weight == project.WeightItem {
			col = c.w.item[i]
		}
		r.Items = append(r.Items, pn.itemResult(i, ev.bounds[i], c.dists[i], col))
	}
	return r
}

// values returns the decision maker assessments aligned with the project levels.
func (ev *evaluation) values() map[string][]float64 {
	out := make(map[string][]float64, len(ev.pn.items))
	for i, it := range ev.pn.items {
		out[it.id] = ev.pn.assessment(i, ev.result.dists[i])
	}
	return out
}

func prepare(p *project.Project, s *project.Settings) error {
	if p == nil {
		return newError(KindConfiguration, "decision maker", "project required")
	}
	if err := s.Validate(); err != nil {
		return wrapError(KindConfiguration, "decision maker", err)
	}
	return nil
}

// Calculate computes a decision maker without adding it to the project.
func Calculate(ctx context.Context, p *project.Project, s project.Settings) (*project.Results, error) {
	if err := prepare(p, &s); err != nil {
		return nil, err
	}
	r, _, err := calculate(ctx, snapshot(p), s)
	return r, err
}

func calculate(ctx context.Context, pn *panel, s project.Settings) (*project.Results, map[string][]float64, error) {
	ev, err := evaluate(ctx, pn, s)
	if err != nil {
		return nil, nil, err
	}
	r := ev.results()
	pn = ev.pn

	if s.Robustness {
		dm, _ := r.DM()
		base := project.RobustnessEntry{
			Computable:  dm.Computable,
			InfoTotal:   dm.InfoTotal,
			InfoReal:    dm.InfoReal,
			Calibration: dm.Calibration,
		}
		if len(pn.experts) > 1 {
			if r.ExpertRobustness, err = robustness(ctx, pn, s, byExpert, base, 1, 1); err != nil {
				return nil, nil, err
			}
		}
		if len(pn.seedIDs()) > 1 {
			if r.ItemRobustness, err = robustness(ctx, pn, s, byItem, base, 1, 1); err != nil {
				return nil, nil, err
			}
		}
	}
	return r, ev.values(), nil
}

// CalculateDecisionMaker computes a decision maker and adds it to the project
// as an expert with role dm together with its results. With overwrite an
// earlier decision maker with the same ID is replaced.
func CalculateDecisionMaker(ctx context.Context, p *project.Project, s project.Settings, overwrite bool) (*project.Results, error) {
	if err := prepare(p, &s); err != nil {
		return nil, err
	}
	if _, err := p.Expert(s.ID); err == nil && !overwrite {
		return nil, fmt.Errorf("decision maker %q: %w", s.ID, project.ErrDuplicate)
	}

	r, values, err := calculate(ctx, snapshot(p), s)
	if err != nil {
		return nil, err
	}
	if err := p.SaveDecisionMaker(r, values, overwrite); err != nil {
		return nil, fmt.Errorf("saving decision maker: %w", err)
	}
	for _, id := range r.Skipped {
		slog.Warn("expert excluded from decision maker, no usable answers", "expert", id, "dm", s.ID)
	}
	dm, _ := r.DM()
	slog.Debug("decision maker calculated",
		"id", s.ID, "weight", s.Weight, "calibration", dm.Calibration, "info_real", dm.InfoReal)
	return r.Clone(), nil
}

// Score returns the scores and weights of the included experts followed by
// the decision maker the settings would produce.
func Score(ctx context.Context, p *project.Project, s project.Settings) ([]project.ExpertScore, error) {
	r, err := Calculate(ctx, p, s)
	if err != nil {
		return nil, err
	}
	return r.Experts, nil
}
