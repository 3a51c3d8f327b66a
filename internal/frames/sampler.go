// Package frames samples, resizes and converts source video frames.
package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"math"

	"github.com/nfnt/resize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/media"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// Frame bounds used by the engine.
const (
	FullEncodeFrames = 150
	EstimateFrames   = 30
	MinUsableFrames  = 2

	// readBudget bounds source reads at stride x MaxFrames x readBudget.
	readBudget = 3
)

var tracer = otel.Tracer("gif-frames")

// Request describes one sampling pass.
type Request struct {
	SourceFPS    float64
	TargetFPS    float64
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	MaxFrames    int
}

// Stats summarises a finished sampling pass.
type Stats struct {
	Stride  int `json:"stride"`
	Emitted int `json:"emitted"`
	Skipped int `json:"skipped"`
	Reads   int `json:"reads"`
}

// Stride returns max(1, round(sourceFPS/targetFPS)).
func Stride(sourceFPS, targetFPS float64) int {
	if sourceFPS <= 0 || targetFPS <= 0 {
		return 1
	}
	s := int(math.Round(sourceFPS / targetFPS))
	if s < 1 {
		return 1
	}
	return s
}

// Sampler produces frame sequences from a media.Decoder.
type Sampler struct {
	decoder media.Decoder
	log     *slog.Logger
}

// NewSampler creates a Sampler.
func NewSampler(decoder media.Decoder, log *slog.Logger) *Sampler {
	return &Sampler{decoder: decoder, log: logger.OrDefault(log)}
}

// Sample opens path and returns a lazy sequence of at most req.MaxFrames
// frames taken every Stride(req.SourceFPS, req.TargetFPS) source frames.
func (s *Sampler) Sample(ctx context.Context, path string, req Request) (*Sequence, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, models.NewStageError(models.StageSample, models.ErrSampleFailed, "invalid target size %dx%d", req.Width, req.Height)
	}
	if req.MaxFrames <= 0 {
		return nil, models.NewStageError(models.StageSample, models.ErrSampleFailed, "max frames must be positive")
	}

	srcW, srcH := req.SourceWidth, req.SourceHeight
	if srcW <= 0 || srcH <= 0 {
		srcW, srcH = req.Width, req.Height
	}

	reader, err := s.decoder.Open(ctx, path, srcW, srcH)
	if err != nil {
		return nil, models.NewStageError(models.StageSample, models.ErrSampleFailed, "open decoder: %v", err)
	}

	stride := Stride(req.SourceFPS, req.TargetFPS)
	return &Sequence{
		ctx:      ctx,
		reader:   reader,
		req:      req,
		stride:   stride,
		maxReads: stride * req.MaxFrames * readBudget,
		log:      s.log,
	}, nil
}

// Sequence is a finite, non-restartable stream of sampled frames.
type Sequence struct {
	ctx      context.Context
	reader   media.FrameReader
	req      Request
	stride   int
	position int
	emitted  int
	skipped  int
	maxReads int
	err      error
	closed   bool
	log      *slog.Logger
}

// Next returns the next sampled frame, or false when the sequence ends.
// The decoder is released as soon as the frame bound is reached.
func (s *Sequence) Next() (*image.RGBA, bool) {
	for !s.closed {
		if s.emitted >= s.req.MaxFrames || s.position >= s.maxReads {
			s.Close()
			return nil, false
		}

		pos := s.position
		s.position++

		if pos%s.stride != 0 {
			if err := s.reader.SkipFrame(); err != nil {
				s.finish(err)
				return nil, false
			}
			continue
		}

		img, err := s.reader.ReadFrame()
		if err != nil {
			s.finish(err)
			return nil, false
		}

		frame, err := Convert(img, s.req.Width, s.req.Height)
		if err != nil {
			s.skipped++
			metrics.FramesSkipped.Inc()
			logger.Debug(s.ctx, s.log, "Skipping unusable frame", "position", pos, "error", err)
			continue
		}

		s.emitted++
		if s.emitted >= s.req.MaxFrames {
			s.Close()
		}
		return frame, true
	}
	return nil, false
}

// Err returns the decode error that ended the sequence early, if any.
func (s *Sequence) Err() error {
	return s.err
}

// Stats reports progress so far.
func (s *Sequence) Stats() Stats {
	return Stats{
		Stride:  s.stride,
		Emitted: s.emitted,
		Skipped: s.skipped,
		Reads:   s.position,
	}
}

// Close releases the decoder. It is safe to call more than once.
func (s *Sequence) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.reader.Close()
}

func (s *Sequence) finish(err error) {
	if !errors.Is(err, io.EOF) {
		s.err = err
	}
	s.Close()
}

// Collect drains seq and closes it. Fewer than MinUsableFrames frames is a
// fatal *models.StageError wrapping models.ErrInsufficientFrames.
func Collect(ctx context.Context, seq *Sequence) ([]*image.RGBA, Stats, error) {
	_, span := tracer.Start(ctx, "sample")
	defer span.End()
	defer seq.Close()

	var out []*image.RGBA
	for {
		frame, ok := seq.Next()
		if !ok {
			break
		}
		out = append(out, frame)
	}

	stats := seq.Stats()
	span.SetAttributes(
		attribute.Int("frames.stride", stats.Stride),
		attribute.Int("frames.emitted", stats.Emitted),
		attribute.Int("frames.skipped", stats.Skipped),
	)

	if len(out) < MinUsableFrames {
		reason := fmt.Sprintf("%d usable frames (stride %d, %d skipped)", len(out), stats.Stride, stats.Skipped)
		if seq.Err() != nil {
			reason += fmt.Sprintf(", decode error: %v", seq.Err())
		}
		span.RecordError(models.ErrInsufficientFrames)
		return nil, stats, models.NewStageError(models.StageSample, models.ErrInsufficientFrames, "%s", reason)
	}

	if seq.Err() != nil {
		logger.Warn(ctx, seq.log, "Decoding ended early", "frames", len(out), "error", seq.Err())
	}

	return out, stats, nil
}

// Convert resizes img to width x height with bilinear interpolation and
// returns an RGBA copy anchored at the origin. Panics in the resampler
// become errors.
func Convert(img image.Image, width, height int) (out *image.RGBA, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("resize panic: %v", rec)
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty frame")
	}

	src := img
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		src = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	}

	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect == image.Rect(0, 0, width, height) && src != img {
		return rgba, nil
	}

	out = image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	if out.Bounds().Dx() != width || out.Bounds().Dy() != height {
		return nil, fmt.Errorf("converted frame is %v, want %dx%d", out.Bounds(), width, height)
	}
	return out, nil
}
