package cooke

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/mchmarny/sejctl/pkg/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-9

func ptr(v float64) *float64 {
	return &v
}

// scenarioProject is a panel of 3 experts with 2 seed items (realizations
// 10 and 50) and one target item, assessed at the 5/50/95% levels.
func scenarioProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.New("scenario", nil)
	require.NoError(t, err)

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, p.AddExpert(id, "Expert "+id))
	}
	require.NoError(t, p.AddItem("s1", "seed one", project.ScaleUniform))
	require.NoError(t, p.AddItem("s2", "seed two", project.ScaleUniform))
	require.NoError(t, p.AddItem("t1", "target one", project.ScaleLog))
	require.NoError(t, p.SetRealization("s1", ptr(10)))
	require.NoError(t, p.SetRealization("s2", ptr(50)))

	values := map[string]map[string][]float64{
		"e1": {"s1": {5, 10, 15}, "s2": {40, 50, 60}, "t1": {1, 2, 3}},
		"e2": {"s1": {8, 12, 20}, "s2": {20, 30, 45}, "t1": {2, 3, 4}},
		"e3": {"s1": {1, 3, 6}, "s2": {45, 55, 100}, "t1": {1.5, 2.5, 5}},
	}
	for e, row := range values {
		for i, v := range row {
			require.NoError(t, p.SetAssessment(e, i, v))
		}
	}
	return p
}

func settings(id string, w project.WeightType, alpha *float64) project.Settings {
	s := project.DefaultSettings(id)
	s.Weight = w
	s.Alpha = alpha
	return s
}

func sumWeights(scores []project.ExpertScore) float64 {
	sum := 0.0
	for _, s := range scores {
		if s.Role == project.RoleActual {
			sum += s.Weight
		}
	}
	return sum
}

func TestScenario_GlobalAlphaZero(t *testing.T) {
	p := scenarioProject(t)
	r, err := CalculateDecisionMaker(context.Background(), p, settings("DM", project.WeightGlobal, ptr(0)), false)
	require.NoError(t, err)

	require.Len(t, r.Experts, 4)
	for _, e := range r.Experts[:3] {
		assert.True(t, e.Computable, e.ID)
		assert.Greater(t, e.Weight, 0.0, e.ID)
		assert.Equal(t, 2, e.AnsweredSeeds)
	}
	assert.InDelta(t, 1.0, sumWeights(r.Experts), tolerance)

	dm, ok := r.DM()
	require.True(t, ok)
	assert.Equal(t, "DM", dm.ID)
	assert.True(t, dm.Computable)
	assert.Equal(t, 0.0, *r.Settings.Alpha)
	assert.False(t, r.Optimized)

	s1, ok := r.Item("s1")
	require.True(t, ok)
	require.True(t, s1.Computable)
	assert.GreaterOrEqual(t, s1.Values[1], 3.0)
	assert.LessOrEqual(t, s1.Values[1], 12.0)

	s2, ok := r.Item("s2")
	require.True(t, ok)
	assert.GreaterOrEqual(t, s2.Values[1], 30.0)
	assert.LessOrEqual(t, s2.Values[1], 55.0)

	// the decision maker is stored with its assessments
	e, err := p.Expert("DM")
	require.NoError(t, err)
	assert.True(t, e.IsDM())
	v, err := p.Assessment("DM", "s1")
	require.NoError(t, err)
	assert.Equal(t, s1.Values, v)

	stored, err := p.Results("DM")
	require.NoError(t, err)
	assert.Equal(t, r, stored)
}

func TestDecisionMaker_QuantilesAreMonotonic(t *testing.T) {
	p := scenarioProject(t)
	for _, w := range []project.WeightType{project.WeightEqual, project.WeightGlobal, project.WeightItem} {
		t.Run(string(w), func(t *testing.T) {
			r, err := Calculate(context.Background(), p, settings("DM", w, nil))
			require.NoError(t, err)
			for _, it := range r.Items {
				require.True(t, it.Computable, it.ID)
				assert.GreaterOrEqual(t, it.Values[0], it.Lower)
				assert.LessOrEqual(t, it.Values[len(it.Values)-1], it.Upper)
				for k := 1; k < len(it.Values); k++ {
					assert.LessOrEqual(t, it.Values[k-1], it.Values[k])
				}
				assert.Equal(t, 0.0, it.CDF[0].Probability)
				assert.InDelta(t, 1.0, it.CDF[len(it.CDF)-1].Probability, tolerance)
			}
		})
	}
}

func TestLogScaleItemStaysPositive(t *testing.T) {
	p := scenarioProject(t)
	r, err := Calculate(context.Background(), p, settings("DM", project.WeightEqual, nil))
	require.NoError(t, err)
	t1, ok := r.Item("t1")
	require.True(t, ok)
	assert.Equal(t, project.ScaleLog, t1.Scale)
	assert.Greater(t, t1.Lower, 0.0)
	assert.GreaterOrEqual(t, t1.Values[1], 2.0)
	assert.LessOrEqual(t, t1.Values[1], 3.0)
}

func TestEqualWeights_IndependentOfScores(t *testing.T) {
	p := scenarioProject(t)
	scores, err := Score(context.Background(), p, settings("DM", project.WeightEqual, nil))
	require.NoError(t, err)
	require.Len(t, scores, 4)
	for _, s := range scores[:3] {
		assert.InDelta(t, 1.0/3.0, s.Weight, tolerance)
	}

	// a very different seed outcome changes calibration but not the weights
	require.NoError(t, p.SetRealization("s1", ptr(1000)))
	scores2, err := Score(context.Background(), p, settings("DM", project.WeightEqual, nil))
	require.NoError(t, err)
	for i := range scores[:3] {
		assert.Equal(t, scores[i].Weight, scores2[i].Weight)
	}
	assert.NotEqual(t, scores[0].Calibration, scores2[0].Calibration)
}

func TestUserWeights(t *testing.T) {
	p := scenarioProject(t)
	s := settings("DM", project.WeightUser, nil)

	_, err := Calculate(context.Background(), p, s)
	assert.ErrorIs(t, err, ErrConfiguration)

	require.NoError(t, p.SetUserWeight("e1", ptr(3)))
	require.NoError(t, p.SetUserWeight("e2", ptr(1)))
	r, err := Calculate(context.Background(), p, s)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, r.Experts[0].Weight, tolerance)
	assert.InDelta(t, 0.25, r.Experts[1].Weight, tolerance)
	assert.Equal(t, 0.0, r.Experts[2].Weight)
	assert.Nil(t, r.Settings.Alpha)

	require.NoError(t, p.SetUserWeight("e3", ptr(-1)))
	_, err = Calculate(context.Background(), p, s)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, KindConfiguration, KindOf(err))

	require.NoError(t, p.SetUserWeight("e1", ptr(0)))
	require.NoError(t, p.SetUserWeight("e2", ptr(0)))
	require.NoError(t, p.SetUserWeight("e3", ptr(0)))
	_, err = Calculate(context.Background(), p, s)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestZeroWeightExpertExclusion(t *testing.T) {
	p := scenarioProject(t)
	// e3 inside the range of the others so the background stays the same
	require.NoError(t, p.SetAssessment("e3", "s1", []float64{6, 9, 14}))
	require.NoError(t, p.SetAssessment("e3", "s2", []float64{30, 44, 50}))
	require.NoError(t, p.SetAssessment("e3", "t1", []float64{1.5, 2.5, 3.5}))
	require.NoError(t, p.SetUserWeight("e1", ptr(2)))
	require.NoError(t, p.SetUserWeight("e2", ptr(1)))
	require.NoError(t, p.SetUserWeight("e3", ptr(0)))

	s := settings("DM", project.WeightUser, nil)
	before, err := Calculate(context.Background(), p, s)
	require.NoError(t, err)

	require.NoError(t, p.SetExpertExcluded("e3", true))
	after, err := Calculate(context.Background(), p, s)
	require.NoError(t, err)

	require.Len(t, after.Items, len(before.Items))
	for i := range before.Items {
		require.Len(t, after.Items[i].Values, len(before.Items[i].Values))
		for k := range before.Items[i].Values {
			assert.InDelta(t, before.Items[i].Values[k], after.Items[i].Values[k], tolerance)
		}
	}
}

func TestItemWeights_PerItemNormalized(t *testing.T) {
	p := scenarioProject(t)
	r, err := Calculate(context.Background(), p, settings("DM", project.WeightItem, ptr(0)))
	require.NoError(t, err)
	for _, it := range r.Items {
		sum := 0.0
		for _, w := range it.Weights {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, tolerance, it.ID)
	}
	assert.InDelta(t, 1.0, sumWeights(r.Experts), tolerance)
}

func TestUnansweredItemRenormalizes(t *testing.T) {
	p := scenarioProject(t)
	require.NoError(t, p.SetAssessment("e2", "t1", []float64{math.NaN(), math.NaN(), math.NaN()}))
	r, err := Calculate(context.Background(), p, settings("DM", project.WeightItem, ptr(0)))
	require.NoError(t, err)

	t1, ok := r.Item("t1")
	require.True(t, ok)
	_, has := t1.Weights["e2"]
	assert.False(t, has)
	sum := 0.0
	for _, w := range t1.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, tolerance)
}

func TestOptimizedAlpha_NotWorseThanAllExperts(t *testing.T) {
	p := scenarioProject(t)
	ctx := context.Background()

	opt, err := Calculate(ctx, p, settings("DM", project.WeightGlobal, nil))
	require.NoError(t, err)
	assert.True(t, opt.Optimized)
	require.NotNil(t, opt.Settings.Alpha)

	lowest := math.Inf(1)
	for _, e := range opt.Experts[:3] {
		lowest = math.Min(lowest, e.Calibration)
	}
	all, err := Calculate(ctx, p, settings("DM", project.WeightGlobal, ptr(lowest)))
	require.NoError(t, err)

	optDM, _ := opt.DM()
	allDM, _ := all.DM()
	assert.GreaterOrEqual(t, optDM.Combined, allDM.Combined)
	assert.GreaterOrEqual(t, *opt.Settings.Alpha, lowest)
}

func TestAlphaAboveMaxCalibration(t *testing.T) {
	p := scenarioProject(t)
	_, err := Calculate(context.Background(), p, settings("DM", project.WeightGlobal, ptr(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNoSeedItems(t *testing.T) {
	p := scenarioProject(t)
	require.NoError(t, p.SetItemExcluded("s1", true))
	require.NoError(t, p.SetItemExcluded("s2", true))

	_, err := Calculate(context.Background(), p, settings("DM", project.WeightGlobal, nil))
	assert.ErrorIs(t, err, ErrInsufficientData)

	// equal weights still synthesize, the decision maker just has no calibration
	r, err := Calculate(context.Background(), p, settings("DM", project.WeightEqual, nil))
	require.NoError(t, err)
	dm, _ := r.DM()
	assert.False(t, dm.Computable)
	require.Len(t, r.Items, 1)
}

func TestSeedLevelsMustMatch(t *testing.T) {
	p := scenarioProject(t)
	require.NoError(t, p.SetItemQuantiles("s2", []float64{0.05, 0.95}))
	_, err := Calculate(context.Background(), p, settings("DM", project.WeightGlobal, nil))
	assert.ErrorIs(t, err, ErrData)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "s2", ce.Item)
}

func TestLogScaleRejectsNonPositive(t *testing.T) {
	p := scenarioProject(t)
	require.NoError(t, p.SetAssessment("e1", "t1", []float64{-1, 2, 3}))
	_, err := Calculate(context.Background(), p, settings("DM", project.WeightEqual, nil))
	assert.ErrorIs(t, err, ErrData)
}

func TestHardBoundInsideAnswers(t *testing.T) {
	p := scenarioProject(t)
	require.NoError(t, p.SetItemBounds("s1", ptr(7), nil))
	_, err := Calculate(context.Background(), p, settings("DM", project.WeightEqual, nil))
	require.ErrorIs(t, err, ErrData)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "s1", ce.Item)

	// a bound below every answer only trims the overshoot
	require.NoError(t, p.SetItemBounds("s1", ptr(0.5), nil))
	r, err := Calculate(context.Background(), p, settings("DM", project.WeightEqual, nil))
	require.NoError(t, err)
	it, ok := r.Item("s1")
	require.True(t, ok)
	assert.InDelta(t, 0.5, it.Lower, tolerance)
	for k := 1; k < len(it.CDF); k++ {
		assert.GreaterOrEqual(t, it.CDF[k].Value, it.CDF[k-1].Value)
		assert.GreaterOrEqual(t, it.CDF[k].Probability, it.CDF[k-1].Probability)
	}
}

func TestDegenerateWeights(t *testing.T) {
	p, err := project.New("flat", nil)
	require.NoError(t, err)
	require.NoError(t, p.AddExpert("a", ""))
	require.NoError(t, p.AddExpert("b", ""))
	require.NoError(t, p.AddItem("s", "", project.ScaleUniform))
	require.NoError(t, p.SetRealization("s", ptr(5)))
	require.NoError(t, p.SetAssessment("a", "s", []float64{5, 5, 5}))
	require.NoError(t, p.SetAssessment("b", "s", []float64{5, 5, 5}))

	s := settings("DM", project.WeightGlobal, ptr(0))
	s.Overshoot = 0
	_, err = Calculate(context.Background(), p, s)
	assert.ErrorIs(t, err, ErrDegenerate)

	s.Alpha = nil
	_, err = Calculate(context.Background(), p, s)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestAutoExclusion(t *testing.T) {
	p := scenarioProject(t)
	require.NoError(t, p.AddExpert("e4", ""))
	require.NoError(t, p.SetAssessment("e4", "t1", []float64{1, 2, 3}))

	r, err := CalculateDecisionMaker(context.Background(), p, settings("DM", project.WeightGlobal, nil), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"e4"}, r.Skipped)
	assert.Len(t, r.Experts, 4)

	// equal weights only need some answer
	r, err = Calculate(context.Background(), p, settings("DM2", project.WeightEqual, nil))
	require.NoError(t, err)
	assert.Empty(t, r.Skipped)
	assert.Len(t, r.Experts, 5)
}

func TestDecisionMakerOverwrite(t *testing.T) {
	p := scenarioProject(t)
	ctx := context.Background()
	s := settings("DM", project.WeightEqual, nil)

	_, err := CalculateDecisionMaker(ctx, p, s, false)
	require.NoError(t, err)
	_, err = CalculateDecisionMaker(ctx, p, s, false)
	assert.ErrorIs(t, err, project.ErrDuplicate)

	s.Weight = project.WeightGlobal
	r, err := CalculateDecisionMaker(ctx, p, s, true)
	require.NoError(t, err)
	assert.Equal(t, project.WeightGlobal, r.Settings.Weight)
	assert.Len(t, p.ResultsList(), 1)

	// an earlier decision maker does not take part in a new calculation
	r2, err := Calculate(ctx, p, settings("DM2", project.WeightEqual, nil))
	require.NoError(t, err)
	assert.Len(t, r2.Experts, 4)

	// actual experts cannot be replaced
	_, err = CalculateDecisionMaker(ctx, p, settings("e1", project.WeightEqual, nil), true)
	assert.ErrorIs(t, err, project.ErrInvalid)
}

func TestInvalidSettings(t *testing.T) {
	p := scenarioProject(t)
	s := settings("DM", project.WeightGlobal, nil)
	s.CalPower = 0
	_, err := Calculate(context.Background(), p, s)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, project.ErrInvalid)

	_, err = Calculate(context.Background(), nil, settings("DM", project.WeightGlobal, nil))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResultsAreSnapshots(t *testing.T) {
	p := scenarioProject(t)
	r, err := CalculateDecisionMaker(context.Background(), p, settings("DM", project.WeightEqual, nil), false)
	require.NoError(t, err)

	require.NoError(t, p.SetAssessment("e1", "s1", []float64{100, 200, 300}))
	stored, err := p.Results("DM")
	require.NoError(t, err)
	assert.Equal(t, r.Items, stored.Items)
}

func TestRoundTripReproducesResults(t *testing.T) {
	for _, f := range []project.Format{project.FormatJSON, project.FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			ctx := context.Background()
			p := scenarioProject(t)
			s := settings("DM", project.WeightGlobal, nil)
			first, err := CalculateDecisionMaker(ctx, p, s, false)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, project.Encode(&buf, p, f))
			loaded, err := project.Decode(&buf, f)
			require.NoError(t, err)

			again, err := CalculateDecisionMaker(ctx, loaded, s, true)
			require.NoError(t, err)

			assert.Equal(t, first.Settings, again.Settings)
			assert.Equal(t, first.Experts, again.Experts)
			assert.Equal(t, first.Items, again.Items)
		})
	}
}

func TestContextCancelled(t *testing.T) {
	p := scenarioProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Calculate(ctx, p, settings("DM", project.WeightGlobal, nil))
	assert.ErrorIs(t, err, context.Canceled)
}
