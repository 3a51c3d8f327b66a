package solver

import (
	"context"
	"image"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/gif-pipeline/internal/frames"
	"github.com/amillerrr/gif-pipeline/internal/gifenc"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// DefaultMaxPasses bounds encode-level optimisation.
const DefaultMaxPasses = 4

// FitResult is the artifact chosen by the optimizer.
type FitResult struct {
	Data      []byte
	Params    models.ConversionParams
	Passes    int
	Satisfied bool
}

// OptimizerConfig configures an Optimizer.
type OptimizerConfig struct {
	Encoder   *gifenc.Encoder
	MaxPasses int
	Logger    *slog.Logger
}

// Optimizer re-encodes already sampled frames with the staged reductions
// until the real output fits.
type Optimizer struct {
	encoder   *gifenc.Encoder
	maxPasses int
	log       *slog.Logger
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = DefaultMaxPasses
	}
	if cfg.Encoder == nil {
		cfg.Encoder = gifenc.NewEncoder(cfg.Logger)
	}
	return &Optimizer{
		encoder:   cfg.Encoder,
		maxPasses: cfg.MaxPasses,
		log:       logger.OrDefault(cfg.Logger),
	}
}

// Fit shrinks data, the encoding of src at params, until it satisfies
// constraint. It returns the first fitting artifact or the smallest one
// produced, which may be data itself.
func (o *Optimizer) Fit(ctx context.Context, src []*image.RGBA, params models.ConversionParams, constraint models.SizeConstraint, data []byte) (*FitResult, error) {
	ctx, span := tracer.Start(ctx, "optimize")
	defer span.End()

	best := &FitResult{Data: data, Params: params, Satisfied: constraint.Check(int64(len(data)))}
	if best.Satisfied || !constraint.Degradable() {
		return best, nil
	}

	target := float64(constraint.TargetBytes())
	current := src
	size := len(data)

	for pass := 1; pass <= o.maxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ratio := target / float64(max(size, 1))
		reduced, next, ok := reduceStep(current, params, ratio)
		if !ok {
			metrics.OptimizerPasses.WithLabelValues("exhausted").Inc()
			break
		}

		encoded, err := o.encoder.Encode(reduced, gifenc.OptionsFor(next))
		if err != nil {
			return nil, err
		}

		best.Passes = pass
		params, current, size = next, reduced, len(encoded)
		logger.Debug(ctx, o.log, "Optimizer pass",
			"pass", pass,
			"params", next.String(),
			"sizeBytes", size,
		)

		if size < len(best.Data) {
			best.Data, best.Params = encoded, next
		}
		if constraint.Check(int64(size)) {
			best.Data, best.Params, best.Satisfied = encoded, next, true
			metrics.OptimizerPasses.WithLabelValues("fit").Inc()
			break
		}
		metrics.OptimizerPasses.WithLabelValues("over").Inc()
	}

	span.SetAttributes(
		attribute.Int("optimize.passes", best.Passes),
		attribute.Bool("optimize.satisfied", best.Satisfied),
		attribute.Int("optimize.bytes", len(best.Data)),
	)
	return best, nil
}

// FitGIF decodes an existing GIF and runs Fit on its frames.
func (o *Optimizer) FitGIF(ctx context.Context, data []byte, constraint models.SizeConstraint) (*FitResult, error) {
	anim, err := gifenc.DecodeFrames(data)
	if err != nil {
		return nil, err
	}

	b := anim.Frames[0].Bounds()
	params := models.ConversionParams{
		FPS:      anim.FPS(),
		Quality:  models.DefaultQuality,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Optimize: true,
	}
	return o.Fit(ctx, anim.Frames, params, constraint, data)
}

// reduceStep walks the stages from the one chosen by ratio and returns the
// first reduction that still changes the params once applied to the frames.
// ok is false when no remaining stage changes anything.
func reduceStep(src []*image.RGBA, p models.ConversionParams, ratio float64) ([]*image.RGBA, models.ConversionParams, bool) {
	for i := stageIndex(ratio); i < len(Stages); i++ {
		next := Stages[i].Apply(p, ratio)
		if next == p {
			continue
		}
		if reduced, applied := reduceFrames(src, p, next); applied != p {
			return reduced, applied, true
		}
	}
	return src, p, false
}

// reduceFrames scales src to next's geometry and drops frames to approach
// next's frame rate. The returned params reflect what was actually applied:
// a frame rate change too small to drop any frame is discarded.
func reduceFrames(src []*image.RGBA, cur, next models.ConversionParams) ([]*image.RGBA, models.ConversionParams) {
	stride := frames.Stride(float64(cur.FPS), float64(next.FPS))
	if stride <= 1 || len(src)/stride < frames.MinUsableFrames {
		stride = 1
		next.FPS = cur.FPS
	} else {
		next.FPS = max(models.MinFPS, int(math.Round(float64(cur.FPS)/float64(stride))))
	}

	resize := next.Width != cur.Width || next.Height != cur.Height
	out := make([]*image.RGBA, 0, len(src)/stride+1)
	for i := 0; i < len(src); i += stride {
		f := src[i]
		if resize {
			scaled, err := frames.Convert(f, next.Width, next.Height)
			if err != nil {
				continue
			}
			f = scaled
		}
		out = append(out, f)
	}
	if len(out) < frames.MinUsableFrames && len(src) >= frames.MinUsableFrames {
		return src, cur
	}
	return out, next
}
