// Package sizing predicts GIF output sizes for conversion parameters.
package sizing

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/gif-pipeline/internal/frames"
	"github.com/amillerrr/gif-pipeline/internal/gifenc"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var tracer = otel.Tracer("gif-sizing")

// Method records how an estimate was produced.
type Method string

const (
	MethodCache      Method = "cache"
	MethodMeasured   Method = "measured"
	MethodSimplified Method = "simplified"
	MethodAnalytic   Method = "analytic"
	MethodFallback   Method = "fallback"
)

// Analytic model calibration constants.
const (
	BytesPerPixelFrame = 0.8
	CompressionFactor  = 0.3

	MinAnalyticBytes = 10 * 1024
	MaxAnalyticBytes = 50 * 1024 * 1024

	// FallbackBytes is used when nothing is known about the source.
	FallbackBytes = 1024 * 1024
)

// Reduced-fidelity bounds for the retry after a failed measurement.
const (
	simplifiedWidth  = 320
	simplifiedHeight = 240
	simplifiedFPS    = 5
)

// Estimate is a predicted output size.
type Estimate struct {
	Bytes  int64  `json:"bytes"`
	Method Method `json:"method"`
	// Fallback is set when the preferred measurement failed.
	Fallback bool `json:"fallback"`
}

// EstimatorConfig configures an Estimator.
type EstimatorConfig struct {
	Sampler       *frames.Sampler
	Encoder       *gifenc.Encoder
	Cache         *Cache
	PreviewFrames int
	MaxFrames     int
	Logger        *slog.Logger
}

// Estimator predicts output sizes, caching every result.
type Estimator struct {
	sampler       *frames.Sampler
	encoder       *gifenc.Encoder
	cache         *Cache
	previewFrames int
	maxFrames     int
	log           *slog.Logger
}

// NewEstimator creates an Estimator. A nil Cache gets a private one.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.Cache == nil {
		cfg.Cache = NewCache()
	}
	if cfg.PreviewFrames <= 0 {
		cfg.PreviewFrames = frames.EstimateFrames
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = frames.FullEncodeFrames
	}
	if cfg.Encoder == nil {
		cfg.Encoder = gifenc.NewEncoder(cfg.Logger)
	}
	return &Estimator{
		sampler:       cfg.Sampler,
		encoder:       cfg.Encoder,
		cache:         cfg.Cache,
		previewFrames: cfg.PreviewFrames,
		maxFrames:     cfg.MaxFrames,
		log:           logger.OrDefault(cfg.Logger),
	}
}

// Cache returns the estimate cache.
func (e *Estimator) Cache() *Cache {
	return e.cache
}

// Estimate predicts the encoded size of the video at params. It never fails:
// when measurement is impossible it degrades to the analytic model and then
// to a conservative fallback.
func (e *Estimator) Estimate(ctx context.Context, props models.VideoProperties, params models.ConversionParams, sourcePath string) Estimate {
	ctx, span := tracer.Start(ctx, "estimate")
	defer span.End()

	key := Key(props, params)
	gen := e.cache.Generation()
	if size, ok := e.cache.Get(key); ok {
		metrics.RecordEstimate(string(MethodCache))
		span.SetAttributes(attribute.String("estimate.method", string(MethodCache)))
		return Estimate{Bytes: size, Method: MethodCache}
	}

	est := e.compute(ctx, props, params, sourcePath)
	if !e.cache.PutIfCurrent(gen, key, est.Bytes) {
		logger.Debug(ctx, e.log, "Cache reset during estimate, result not cached", "params", params.String())
	}

	metrics.RecordEstimate(string(est.Method))
	span.SetAttributes(
		attribute.String("estimate.method", string(est.Method)),
		attribute.Int64("estimate.bytes", est.Bytes),
		attribute.String("estimate.params", params.Fingerprint()),
	)
	return est
}

func (e *Estimator) compute(ctx context.Context, props models.VideoProperties, params models.ConversionParams, sourcePath string) Estimate {
	if sourcePath == "" || e.sampler == nil {
		if size, ok := Analytic(props, params); ok {
			return Estimate{Bytes: size, Method: MethodAnalytic}
		}
		return e.fallback(ctx, props, fmt.Errorf("no source and unusable properties"))
	}

	size, err := e.measure(ctx, props, params, sourcePath)
	if err == nil {
		return Estimate{Bytes: size, Method: MethodMeasured}
	}
	logger.Warn(ctx, e.log, "Estimate encode failed, retrying simplified", "params", params.String(), "error", err)

	size, serr := e.measureSimplified(ctx, props, params, sourcePath)
	if serr == nil {
		return Estimate{Bytes: size, Method: MethodSimplified, Fallback: true}
	}
	err = serr

	if size, ok := Analytic(props, params); ok {
		logger.Warn(ctx, e.log, "Using analytic estimate", "error", err)
		return Estimate{Bytes: size, Method: MethodAnalytic, Fallback: true}
	}
	return e.fallback(ctx, props, err)
}

func (e *Estimator) fallback(ctx context.Context, props models.VideoProperties, cause error) Estimate {
	size := int64(FallbackBytes)
	if props.FileSizeBytes > 0 {
		size = props.FileSizeBytes / 4
	}
	logger.Warn(ctx, e.log, models.ErrEstimationFallback.Error(), "sizeBytes", size, "error", cause)
	return Estimate{Bytes: size, Method: MethodFallback, Fallback: true}
}

// measure encodes a short preview at params and extrapolates it to the full
// frame count.
func (e *Estimator) measure(ctx context.Context, props models.VideoProperties, params models.ConversionParams, sourcePath string) (int64, error) {
	seq, err := e.sampler.Sample(ctx, sourcePath, frames.Request{
		SourceFPS:    props.FrameRate,
		TargetFPS:    float64(params.FPS),
		Width:        params.Width,
		Height:       params.Height,
		SourceWidth:  props.Width,
		SourceHeight: props.Height,
		MaxFrames:    e.previewFrames,
	})
	if err != nil {
		return 0, err
	}
	preview, _, err := frames.Collect(ctx, seq)
	if err != nil {
		return 0, err
	}

	data, err := e.encoder.Encode(preview, gifenc.OptionsFor(params))
	if err != nil {
		return 0, err
	}

	full := ExpectedFrames(props, params.FPS, e.maxFrames)
	return extrapolate(int64(len(data)), len(preview), full), nil
}

// measureSimplified measures at reduced size and frame rate and scales the
// result back by area, frame count and quality ratios.
func (e *Estimator) measureSimplified(ctx context.Context, props models.VideoProperties, params models.ConversionParams, sourcePath string) (int64, error) {
	simple := Simplified(params)
	size, err := e.measure(ctx, props, simple, sourcePath)
	if err != nil {
		return 0, err
	}

	areaRatio := float64(params.Width*params.Height) / float64(simple.Width*simple.Height)
	frameRatio := float64(ExpectedFrames(props, params.FPS, e.maxFrames)) /
		float64(ExpectedFrames(props, simple.FPS, e.maxFrames))
	qualityRatio := float64(params.Quality) / float64(simple.Quality)

	return int64(math.Ceil(float64(size) * areaRatio * frameRatio * qualityRatio)), nil
}

// Simplified returns params reduced to at most 320x240 (aspect preserved)
// and 5 fps.
func Simplified(params models.ConversionParams) models.ConversionParams {
	out := params
	scale := math.Min(1, math.Min(
		float64(simplifiedWidth)/float64(max(1, params.Width)),
		float64(simplifiedHeight)/float64(max(1, params.Height)),
	))
	out.Width = max(models.MinDimension, int(math.Round(float64(params.Width)*scale)))
	out.Height = max(models.MinDimension, int(math.Round(float64(params.Height)*scale)))
	out.FPS = min(params.FPS, simplifiedFPS)
	return out
}

// ExpectedFrames is the number of frames a full encode at fps will contain.
func ExpectedFrames(props models.VideoProperties, fps int, maxFrames int) int {
	stride := frames.Stride(props.FrameRate, float64(fps))
	n := int(math.Ceil(float64(props.FrameCount) / float64(stride)))
	return min(max(n, 1), maxFrames)
}

func extrapolate(size int64, sampled, full int) int64 {
	if sampled <= 0 || full <= sampled {
		return size
	}
	return int64(math.Ceil(float64(size) * float64(full) / float64(sampled)))
}

// Analytic applies the closed-form size model, clamped to
// [MinAnalyticBytes, MaxAnalyticBytes]. ok is false when props cannot feed
// the model.
func Analytic(props models.VideoProperties, params models.ConversionParams) (int64, bool) {
	if params.Width <= 0 || params.Height <= 0 || params.FPS <= 0 || props.DurationSeconds <= 0 {
		return 0, false
	}

	pixels := float64(params.Width * params.Height)
	frameCount := float64(params.FPS) * props.DurationSeconds
	perPixel := float64(params.Quality) / 100 * BytesPerPixelFrame
	size := pixels * frameCount * perPixel * CompressionFactor

	return int64(math.Min(math.Max(size, MinAnalyticBytes), MaxAnalyticBytes)), true
}
