// Package converter runs the video to GIF pipeline: probe, optional
// suggestion, constraint solve, sampling, encoding and the final size fit.
package converter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amillerrr/gif-pipeline/internal/frames"
	"github.com/amillerrr/gif-pipeline/internal/gifenc"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/media"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/internal/retry"
	"github.com/amillerrr/gif-pipeline/internal/session"
	"github.com/amillerrr/gif-pipeline/internal/sizing"
	"github.com/amillerrr/gif-pipeline/internal/solver"
	"github.com/amillerrr/gif-pipeline/internal/suggest"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var tracer = otel.Tracer("gif-converter")

// Prober extracts video properties.
type Prober interface {
	Probe(ctx context.Context, path string) (models.VideoProperties, error)
}

// Config holds the converter's dependencies and bounds.
type Config struct {
	Prober          Prober
	Decoder         media.Decoder
	Completer       suggest.Completer
	RetryPolicy     retry.Policy
	MaxFrames       int
	EstimateFrames  int
	MaxIterations   int
	OptimizerPasses int
	Logger          *slog.Logger
}

// Request is one conversion request. A nil Params uses the defaults for
// the source.
type Request struct {
	Params        *models.ConversionParams `json:"params,omitempty"`
	Constraint    models.SizeConstraint    `json:"constraint"`
	Hint          string                   `json:"hint,omitempty"`
	UseSuggestion bool                     `json:"useSuggestion,omitempty"`
}

// Result is a finished conversion. BestEffort results are successes whose
// size misses the requested constraint; ReportedConstraint is then the
// achievable one.
type Result struct {
	Data               []byte                  `json:"-"`
	SizeBytes          int64                   `json:"sizeBytes"`
	Params             models.ConversionParams `json:"params"`
	Properties         models.VideoProperties  `json:"properties"`
	Constraint         models.SizeConstraint   `json:"constraint"`
	ReportedConstraint models.SizeConstraint   `json:"reportedConstraint"`
	BestEffort         bool                    `json:"bestEffort"`
	Solve              solver.Outcome          `json:"solve"`
	OptimizerPasses    int                     `json:"optimizerPasses"`
	Frames             int                     `json:"frames"`
	Sampling           frames.Stats            `json:"sampling"`
	Suggestion         *models.Suggestion      `json:"suggestion,omitempty"`
	Warnings           []string                `json:"warnings,omitempty"`
	Duration           time.Duration           `json:"duration"`
}

// Converter wires the engine components together.
type Converter struct {
	prober          Prober
	sampler         *frames.Sampler
	encoder         *gifenc.Encoder
	completer       suggest.Completer
	policy          retry.Policy
	maxFrames       int
	estimateFrames  int
	maxIterations   int
	optimizerPasses int
	log             *slog.Logger
}

// New creates a Converter.
func New(cfg Config) *Converter {
	log := logger.OrDefault(cfg.Logger)
	if cfg.MaxFrames < frames.MinUsableFrames {
		cfg.MaxFrames = frames.FullEncodeFrames
	}
	if cfg.EstimateFrames < frames.MinUsableFrames {
		cfg.EstimateFrames = frames.EstimateFrames
	}
	if cfg.RetryPolicy.MaxAttempts <= 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}

	return &Converter{
		prober:          cfg.Prober,
		sampler:         frames.NewSampler(cfg.Decoder, log),
		encoder:         gifenc.NewEncoder(log),
		completer:       cfg.Completer,
		policy:          cfg.RetryPolicy,
		maxFrames:       cfg.MaxFrames,
		estimateFrames:  cfg.EstimateFrames,
		maxIterations:   cfg.MaxIterations,
		optimizerPasses: cfg.OptimizerPasses,
		log:             log,
	}
}

// source is a probed video together with the caches that serve it.
type source struct {
	path        string
	props       models.VideoProperties
	estimates   *sizing.Cache
	suggestions *suggest.Cache
}

func sessionSource(sess *session.Session) (source, error) {
	path, props, err := sess.Video()
	if err != nil {
		return source{}, err
	}
	return source{path: path, props: props, estimates: sess.Estimates, suggestions: sess.Suggestions}, nil
}

// Load probes path and makes it the session's video.
func (c *Converter) Load(ctx context.Context, sess *session.Session, path string) (models.VideoProperties, error) {
	props, err := c.prober.Probe(ctx, path)
	if err != nil {
		return models.VideoProperties{}, err
	}
	sess.SetVideo(path, props)
	return props, nil
}

func (c *Converter) estimator(src source) *sizing.Estimator {
	return sizing.NewEstimator(sizing.EstimatorConfig{
		Sampler:       c.sampler,
		Encoder:       c.encoder,
		Cache:         src.estimates,
		PreviewFrames: c.estimateFrames,
		MaxFrames:     c.maxFrames,
		Logger:        c.log,
	})
}

func (c *Converter) solver(est solver.SizeEstimator) *solver.Solver {
	return solver.New(solver.Config{Estimator: est, MaxIterations: c.maxIterations, Logger: c.log})
}

func (c *Converter) generator(src source) *suggest.Generator {
	est := c.estimator(src)
	return suggest.NewGenerator(suggest.GeneratorConfig{
		Completer:  c.completer,
		Solver:     c.solver(est),
		Estimator:  est,
		Cache:      src.suggestions,
		Policy:     c.policy,
		SourcePath: src.path,
		Logger:     c.log,
	})
}

// Estimate solves the constraint for the session's video without encoding
// the full output.
func (c *Converter) Estimate(ctx context.Context, sess *session.Session, params *models.ConversionParams, constraint models.SizeConstraint) (solver.Outcome, error) {
	src, err := sessionSource(sess)
	if err != nil {
		return solver.Outcome{}, err
	}
	p := startParams(src.props, params).Clamp(src.props)
	return c.solver(c.estimator(src)).Solve(ctx, src.props, p, constraint, src.path), nil
}

// Suggest returns vetted suggestions for the session's video.
func (c *Converter) Suggest(ctx context.Context, sess *session.Session, hint string) ([]models.Suggestion, error) {
	src, err := sessionSource(sess)
	if err != nil {
		return nil, err
	}
	return c.generator(src).Suggest(ctx, src.props, hint), nil
}

// Ping checks the suggestion service.
func (c *Converter) Ping(ctx context.Context) error {
	return suggest.NewGenerator(suggest.GeneratorConfig{Completer: c.completer, Policy: c.policy, Logger: c.log}).Ping(ctx)
}

// Convert converts the session's video. A reset of the session while the
// conversion runs makes it fail with models.ErrSessionReset.
func (c *Converter) Convert(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	generation := sess.Generation()
	src, err := sessionSource(sess)
	if err != nil {
		return nil, err
	}

	res, err := c.convert(ctx, src, req)
	if err != nil {
		return nil, err
	}
	if sess.Generation() != generation {
		return nil, models.ErrSessionReset
	}
	return res, nil
}

// ConvertFile probes and converts path with private caches.
func (c *Converter) ConvertFile(ctx context.Context, path string, req Request) (*Result, error) {
	props, err := c.prober.Probe(ctx, path)
	if err != nil {
		metrics.RecordConversionFailure()
		return nil, err
	}
	return c.convert(ctx, source{
		path:        path,
		props:       props,
		estimates:   sizing.NewCache(),
		suggestions: suggest.NewCache(),
	}, req)
}

// OptimizeGIF shrinks an existing GIF towards constraint.
func (c *Converter) OptimizeGIF(ctx context.Context, data []byte, constraint models.SizeConstraint) (*solver.FitResult, error) {
	return c.optimizer().FitGIF(ctx, data, constraint)
}

func (c *Converter) optimizer() *solver.Optimizer {
	return solver.NewOptimizer(solver.OptimizerConfig{Encoder: c.encoder, MaxPasses: c.optimizerPasses, Logger: c.log})
}

func (c *Converter) convert(ctx context.Context, src source, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "convert")
	defer span.End()

	start := time.Now()
	res, err := c.run(ctx, src, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		metrics.RecordConversionFailure()
		logger.Error(ctx, c.log, "Conversion failed", "path", src.path, "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	outcome := conversionOutcome(res)
	metrics.RecordConversion(outcome, res.Duration.Seconds(), res.SizeBytes)
	span.SetAttributes(
		attribute.String("convert.outcome", outcome),
		attribute.Int64("convert.size_bytes", res.SizeBytes),
		attribute.String("convert.params", res.Params.Fingerprint()),
		attribute.Int("convert.frames", res.Frames),
	)
	logger.Info(ctx, c.log, "Conversion complete",
		"outcome", outcome,
		"sizeBytes", res.SizeBytes,
		"params", res.Params.String(),
		"frames", res.Frames,
		"durationMs", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (c *Converter) run(ctx context.Context, src source, req Request) (*Result, error) {
	res := &Result{Properties: src.props}
	res.Warnings = append(res.Warnings, src.props.Warnings...)

	params := startParams(src.props, req.Params)
	constraint := req.Constraint

	if req.UseSuggestion {
		suggestions := c.generator(src).Suggest(ctx, src.props, req.Hint)
		if len(suggestions) > 0 {
			s := suggestions[0]
			res.Suggestion = &s
			params = s.Params
			if !constraint.Enabled {
				constraint = s.Constraint
			}
		}
	}

	clamped := params.Clamp(src.props)
	if clamped != params {
		res.Warnings = append(res.Warnings, fmt.Sprintf("parameters clamped from %s to %s", params, clamped))
	}
	params = clamped
	res.Constraint = constraint

	est := c.estimator(src)
	outcome := c.solver(est).Solve(ctx, src.props, params, constraint, src.path)
	res.Solve = outcome
	if outcome.Estimate.Fallback {
		res.Warnings = append(res.Warnings, models.ErrEstimationFallback.Error())
	}
	params = outcome.Params

	seq, err := c.sampler.Sample(ctx, src.path, frames.Request{
		SourceFPS:    src.props.FrameRate,
		TargetFPS:    float64(params.FPS),
		Width:        params.Width,
		Height:       params.Height,
		SourceWidth:  src.props.Width,
		SourceHeight: src.props.Height,
		MaxFrames:    c.maxFrames,
	})
	if err != nil {
		return nil, err
	}
	sampled, stats, err := frames.Collect(ctx, seq)
	res.Sampling = stats
	if err != nil {
		return nil, err
	}
	if stats.Skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d unusable frames skipped", stats.Skipped))
	}

	data, err := c.encoder.Encode(sampled, gifenc.OptionsFor(params))
	if err != nil {
		return nil, err
	}

	if !constraint.Check(int64(len(data))) && constraint.Degradable() {
		fit, err := c.optimizer().Fit(ctx, sampled, params, constraint, data)
		if err != nil {
			return nil, err
		}
		data, params = fit.Data, fit.Params
		res.OptimizerPasses = fit.Passes
	}

	res.Data = data
	res.SizeBytes = int64(len(data))
	res.Params = params
	res.Frames = len(sampled)
	res.ReportedConstraint = constraint

	if !constraint.Check(res.SizeBytes) {
		res.BestEffort = true
		if constraint.Degradable() {
			res.ReportedConstraint = constraint.Relaxed(res.SizeBytes, solver.RelaxFactor)
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: produced %s, requested %s",
			models.ErrConstraintUnsatisfiable, models.FormatBytes(res.SizeBytes), constraint))
	}
	return res, nil
}

func startParams(props models.VideoProperties, p *models.ConversionParams) models.ConversionParams {
	if p == nil {
		return models.DefaultParams(props)
	}
	return *p
}

func conversionOutcome(res *Result) string {
	switch {
	case !res.Constraint.Enabled:
		return string(solver.StateUnconstrained)
	case res.BestEffort:
		return string(solver.StateBestEffort)
	}
	return string(solver.StateSatisfied)
}
