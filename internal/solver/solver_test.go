package solver

import (
	"context"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/amillerrr/gif-pipeline/internal/sizing"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// countingEstimator wraps the analytic model and counts calls.
type countingEstimator struct {
	calls int
}

func (c *countingEstimator) Estimate(ctx context.Context, props models.VideoProperties, params models.ConversionParams, sourcePath string) sizing.Estimate {
	c.calls++
	size, _ := sizing.Analytic(props, params)
	return sizing.Estimate{Bytes: size, Method: sizing.MethodAnalytic}
}

func mustConstraint(t *testing.T, s string) models.SizeConstraint {
	t.Helper()
	c, err := models.ParseSizeConstraintString(s)
	if err != nil {
		t.Fatalf("ParseSizeConstraintString(%q) error = %v", s, err)
	}
	return c
}

func analyticSolver() *Solver {
	return New(Config{Estimator: sizing.NewEstimator(sizing.EstimatorConfig{})})
}

func TestSolve_FullHDUnderFiveMB(t *testing.T) {
	props := models.NewVideoProperties(30, 300, 1920, 1080, 80*1024*1024)
	params := models.DefaultParams(props)
	constraint := mustConstraint(t, "< 5MB")

	out := analyticSolver().Solve(context.Background(), props, params, constraint, "")

	if out.State != StateDegraded {
		t.Fatalf("State = %s, want degraded", out.State)
	}
	want := models.ConversionParams{FPS: 6, Quality: 68, Width: 675, Height: 380, Optimize: true}
	if out.Params != want {
		t.Errorf("Params = %+v, want %+v", out.Params, want)
	}
	if !constraint.Check(out.Estimate.Bytes) {
		t.Errorf("estimate %d does not satisfy %s", out.Estimate.Bytes, constraint)
	}
	if out.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", out.Iterations)
	}
	if out.Constraint != constraint {
		t.Errorf("Constraint = %v, want unchanged %v", out.Constraint, constraint)
	}
}

func TestSolve_SmallVideoUnchanged(t *testing.T) {
	props := models.NewVideoProperties(30, 300, 640, 480, 4*1024*1024)
	params := models.DefaultParams(props)

	out := analyticSolver().Solve(context.Background(), props, params, mustConstraint(t, "< 10MB"), "")

	if out.State != StateSatisfied {
		t.Errorf("State = %s, want satisfied", out.State)
	}
	if out.Params != params {
		t.Errorf("Params = %+v, want %+v", out.Params, params)
	}
	if out.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", out.Iterations)
	}
}

func TestSolve_Disabled(t *testing.T) {
	props := models.NewVideoProperties(30, 300, 1920, 1080, 80*1024*1024)
	params := models.DefaultParams(props)
	est := &countingEstimator{}

	out := New(Config{Estimator: est}).Solve(context.Background(), props, params, models.DefaultConstraint(), "")

	if out.State != StateUnconstrained {
		t.Errorf("State = %s, want unconstrained", out.State)
	}
	if out.Params != params {
		t.Errorf("Params changed: %+v", out.Params)
	}
	if est.calls != 0 {
		t.Errorf("estimator called %d times for a disabled constraint", est.calls)
	}
}

func TestSolve_NonDegradableOperators(t *testing.T) {
	props := models.NewVideoProperties(30, 300, 640, 480, 4*1024*1024)
	params := models.DefaultParams(props)

	tests := []struct {
		constraint string
		want       State
	}{
		{"> 1KB", StateSatisfied},
		{">= 100MB", StateBestEffort},
		{"= 6MB", StateSatisfied},
		{"= 1MB", StateBestEffort},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			c := mustConstraint(t, tt.constraint)
			est := &countingEstimator{}

			out := New(Config{Estimator: est}).Solve(context.Background(), props, params, c, "")

			if out.State != tt.want {
				t.Errorf("State = %s, want %s", out.State, tt.want)
			}
			if out.Params != params {
				t.Errorf("Params changed to %+v", out.Params)
			}
			if out.Constraint != c {
				t.Errorf("Constraint = %v, want %v", out.Constraint, c)
			}
			if est.calls != 1 {
				t.Errorf("estimator called %d times, want 1", est.calls)
			}
		})
	}
}

func TestSolve_BestEffortRelaxes(t *testing.T) {
	props := models.NewVideoProperties(30, 300, 1920, 1080, 80*1024*1024)
	params := models.DefaultParams(props)
	constraint := mustConstraint(t, "< 1KB")

	out := analyticSolver().Solve(context.Background(), props, params, constraint, "")

	if !out.BestEffort() {
		t.Fatalf("State = %s, want best_effort", out.State)
	}
	if out.Params != Floor(params) {
		t.Errorf("Params = %+v, want floor %+v", out.Params, Floor(params))
	}
	if out.Constraint.Unit != "KB" || out.Constraint.Operator != models.OpLess {
		t.Errorf("relaxed constraint = %v, want KB and <", out.Constraint)
	}
	if !out.Constraint.Check(out.Estimate.Bytes) {
		t.Errorf("relaxed %v does not admit estimate %d", out.Constraint, out.Estimate.Bytes)
	}
	if out.Constraint.Value <= constraint.Value {
		t.Errorf("relaxed value %v not above requested %v", out.Constraint.Value, constraint.Value)
	}
}

func TestSolve_IterationBound(t *testing.T) {
	props := models.NewVideoProperties(30, 300, 1920, 1080, 80*1024*1024)
	est := &countingEstimator{}
	s := New(Config{Estimator: est, MaxIterations: 2})

	out := s.Solve(context.Background(), props, models.DefaultParams(props), mustConstraint(t, "< 1KB"), "")

	if out.Iterations > 2 {
		t.Errorf("Iterations = %d, want <= 2", out.Iterations)
	}
	if est.calls > 3 {
		t.Errorf("estimator called %d times, want <= 3", est.calls)
	}
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		ratio float64
		want  float64
	}{
		{0.95, 0.8},
		{0.8, 0.8},
		{0.7, 0.6},
		{0.5, 0.4},
		{0.1, 0},
	}

	for _, tt := range tests {
		if got := StageFor(tt.ratio).MinRatio; got != tt.want {
			t.Errorf("StageFor(%v).MinRatio = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestStageApply_FloorsNeverRaise(t *testing.T) {
	p := models.ConversionParams{FPS: 3, Quality: 55, Width: 50, Height: 40}

	for _, s := range Stages {
		got := s.Apply(p, 0.5)
		if got.FPS > p.FPS || got.Quality > p.Quality || got.Width > p.Width || got.Height > p.Height {
			t.Errorf("stage %v raised %+v to %+v", s.MinRatio, p, got)
		}
	}
}

func TestNext_Escalates(t *testing.T) {
	// Quality and fps already sit below the gentle stage floors, so only
	// the resolution can still shrink.
	p := models.ConversionParams{FPS: 5, Quality: 70, Width: 1000, Height: 800}

	if got := StageFor(0.9).Apply(p, 0.9); got != p {
		t.Fatalf("gentle stage changed %+v to %+v", p, got)
	}

	next, ok := Next(p, 0.9)
	if !ok {
		t.Fatal("Next() ok = false, want escalation")
	}
	if next.Width >= p.Width || next.Height >= p.Height {
		t.Errorf("Next() = %+v, want smaller dimensions", next)
	}

	if _, ok := Next(Floor(p), 0.1); ok {
		t.Error("Next() at the floor should report exhaustion")
	}
}

// solveCase is a random but bounded solver input.
type solveCase struct {
	Width, Height int
	FPS, Quality  int
	Frames        int
	TargetKB      int
}

func (solveCase) Generate(r *rand.Rand, size int) reflect.Value {
	return reflect.ValueOf(solveCase{
		Width:    10 + r.Intn(1990),
		Height:   10 + r.Intn(1990),
		FPS:      1 + r.Intn(30),
		Quality:  50 + r.Intn(51),
		Frames:   15 + r.Intn(3600),
		TargetKB: 10 + r.Intn(100*1024),
	})
}

func (c solveCase) inputs() (models.VideoProperties, models.ConversionParams, models.SizeConstraint) {
	props := models.NewVideoProperties(30, c.Frames, c.Width, c.Height, 50*1024*1024)
	params := models.ConversionParams{FPS: c.FPS, Quality: c.Quality, Width: c.Width, Height: c.Height, Optimize: true}
	constraint := models.SizeConstraint{Operator: models.OpLess, Value: float64(c.TargetKB), Unit: "KB", Enabled: true}
	return props, params, constraint
}

func quickConfig() *quick.Config {
	return &quick.Config{MaxCount: 500, Rand: rand.New(rand.NewSource(7))}
}

func TestSolve_FloorInvariant(t *testing.T) {
	property := func(c solveCase) bool {
		props, params, constraint := c.inputs()
		out := analyticSolver().Solve(context.Background(), props, params, constraint, "")
		floor := Floor(params)

		return out.Params.Width >= floor.Width &&
			out.Params.Height >= floor.Height &&
			out.Params.Quality >= floor.Quality &&
			out.Params.FPS >= floor.FPS &&
			out.Params.Width <= params.Width &&
			out.Params.Height <= params.Height &&
			out.Params.Quality <= params.Quality &&
			out.Params.FPS <= params.FPS
	}

	if err := quick.Check(property, quickConfig()); err != nil {
		t.Error(err)
	}
}

func TestSolve_OutcomeConsistent(t *testing.T) {
	property := func(c solveCase) bool {
		props, params, constraint := c.inputs()
		out := analyticSolver().Solve(context.Background(), props, params, constraint, "")

		switch out.State {
		case StateSatisfied, StateDegraded:
			return constraint.Check(out.Estimate.Bytes)
		case StateBestEffort:
			return !constraint.Check(out.Estimate.Bytes) && out.Constraint.Check(out.Estimate.Bytes)
		}
		return false
	}

	if err := quick.Check(property, quickConfig()); err != nil {
		t.Error(err)
	}
}

func TestSolve_Converges(t *testing.T) {
	// Achievable: the floor fits and the starting estimate is below the
	// analytic ceiling, so every ratio reflects the real overshoot.
	property := func(c solveCase) bool {
		props, params, constraint := c.inputs()
		target := constraint.TargetBytes()

		start, _ := sizing.Analytic(props, params)
		floor, _ := sizing.Analytic(props, Floor(params))
		if floor >= target || start >= sizing.MaxAnalyticBytes {
			return true
		}

		out := analyticSolver().Solve(context.Background(), props, params, constraint, "")
		return float64(out.Estimate.Bytes) <= float64(target)*RelaxFactor
	}

	if err := quick.Check(property, quickConfig()); err != nil {
		t.Error(err)
	}
}
