// Package solver adjusts conversion parameters until the predicted or actual
// output satisfies a size constraint.
package solver

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/internal/sizing"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var tracer = otel.Tracer("gif-solver")

const (
	DefaultMaxIterations = 6
	// RelaxFactor scales the best estimate into the reported constraint of a
	// best-effort result.
	RelaxFactor = 1.3
)

// State is the end state of a solve.
type State string

const (
	StateUnconstrained State = "unconstrained"
	StateSatisfied     State = "satisfied"
	StateDegraded      State = "degraded"
	StateBestEffort    State = "best_effort"
)

// SizeEstimator predicts output sizes.
type SizeEstimator interface {
	Estimate(ctx context.Context, props models.VideoProperties, params models.ConversionParams, sourcePath string) sizing.Estimate
}

// Outcome is the result of Solve.
type Outcome struct {
	State      State                   `json:"state"`
	Params     models.ConversionParams `json:"params"`
	Estimate   sizing.Estimate         `json:"estimate"`
	Iterations int                     `json:"iterations"`
	// Constraint is the requested constraint, or the relaxed one actually
	// achievable when State is StateBestEffort.
	Constraint models.SizeConstraint `json:"constraint"`
}

// BestEffort reports whether the constraint could not be met.
func (o Outcome) BestEffort() bool {
	return o.State == StateBestEffort
}

// Config configures a Solver.
type Config struct {
	Estimator     SizeEstimator
	MaxIterations int
	Logger        *slog.Logger
}

// Solver runs the staged degrade loop against a SizeEstimator.
type Solver struct {
	estimator     SizeEstimator
	maxIterations int
	log           *slog.Logger
}

// New creates a Solver.
func New(cfg Config) *Solver {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Solver{
		estimator:     cfg.Estimator,
		maxIterations: cfg.MaxIterations,
		log:           logger.OrDefault(cfg.Logger),
	}
}

// Solve returns params that satisfy constraint according to the estimator.
// Disabled constraints leave params untouched. Only "<" and "<=" drive the
// degrade loop; other operators are evaluated once. When the floors are hit
// first the smallest estimate seen is returned as best effort.
func (s *Solver) Solve(ctx context.Context, props models.VideoProperties, params models.ConversionParams, constraint models.SizeConstraint, sourcePath string) Outcome {
	ctx, span := tracer.Start(ctx, "solve")
	defer span.End()

	out := s.solve(ctx, props, params, constraint, sourcePath)

	metrics.RecordSolve(string(out.State), out.Iterations)
	span.SetAttributes(
		attribute.String("solve.state", string(out.State)),
		attribute.Int("solve.iterations", out.Iterations),
		attribute.String("solve.params", out.Params.Fingerprint()),
		attribute.Int64("solve.estimate_bytes", out.Estimate.Bytes),
	)
	return out
}

func (s *Solver) solve(ctx context.Context, props models.VideoProperties, params models.ConversionParams, constraint models.SizeConstraint, sourcePath string) Outcome {
	if !constraint.Enabled {
		return Outcome{State: StateUnconstrained, Params: params, Constraint: constraint}
	}

	est := s.estimator.Estimate(ctx, props, params, sourcePath)

	if !constraint.Degradable() {
		out := Outcome{State: StateSatisfied, Params: params, Estimate: est, Constraint: constraint}
		if !constraint.Check(est.Bytes) {
			out.State = StateBestEffort
			logger.Warn(ctx, s.log, models.ErrConstraintUnsatisfiable.Error(),
				"constraint", constraint.String(),
				"estimateBytes", est.Bytes,
			)
		}
		return out
	}

	best := Outcome{Params: params, Estimate: est}
	iterations := 0
	target := float64(constraint.TargetBytes())

	for !constraint.Check(est.Bytes) {
		if iterations >= s.maxIterations {
			break
		}

		ratio := target / float64(max(est.Bytes, 1))
		next, ok := Next(params, ratio)
		if !ok {
			logger.Debug(ctx, s.log, "Parameter floors reached", "params", params.String())
			break
		}

		params = next
		iterations++
		est = s.estimator.Estimate(ctx, props, params, sourcePath)
		logger.Debug(ctx, s.log, "Degraded parameters",
			"iteration", iterations,
			"ratio", ratio,
			"params", params.String(),
			"estimateBytes", est.Bytes,
		)

		if est.Bytes < best.Estimate.Bytes {
			best.Params, best.Estimate = params, est
		}
	}

	if constraint.Check(est.Bytes) {
		state := StateDegraded
		if iterations == 0 {
			state = StateSatisfied
		}
		return Outcome{State: state, Params: params, Estimate: est, Iterations: iterations, Constraint: constraint}
	}

	relaxed := constraint.Relaxed(best.Estimate.Bytes, RelaxFactor)
	logger.Warn(ctx, s.log, models.ErrConstraintUnsatisfiable.Error(),
		"constraint", constraint.String(),
		"achievable", relaxed.String(),
		"params", best.Params.String(),
	)
	return Outcome{
		State:      StateBestEffort,
		Params:     best.Params,
		Estimate:   best.Estimate,
		Iterations: iterations,
		Constraint: relaxed,
	}
}
