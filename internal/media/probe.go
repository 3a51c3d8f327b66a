package media

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// ProberConfig holds Prober dependencies.
type ProberConfig struct {
	Metadata MetadataReader
	Decoder  Decoder
	Logger   *slog.Logger
}

// Prober validates a source video and extracts its properties.
type Prober struct {
	meta    MetadataReader
	decoder Decoder
	log     *slog.Logger
}

// NewProber creates a Prober.
func NewProber(cfg *ProberConfig) *Prober {
	return &Prober{
		meta:    cfg.Metadata,
		decoder: cfg.Decoder,
		log:     logger.OrDefault(cfg.Logger),
	}
}

// Probe returns the properties of the video at path. Every failure is a
// *models.StageError wrapping models.ErrProbeFailed.
func (p *Prober) Probe(ctx context.Context, path string) (models.VideoProperties, error) {
	ctx, span := tracer.Start(ctx, "probe")
	defer span.End()

	props, err := p.probe(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe failed")
		logger.Warn(ctx, p.log, "Probe failed", "path", path, "error", err)
		return models.VideoProperties{}, err
	}

	span.SetAttributes(
		attribute.Int("video.width", props.Width),
		attribute.Int("video.height", props.Height),
		attribute.Float64("video.fps", props.FrameRate),
		attribute.Int("video.frames", props.FrameCount),
		attribute.Int64("video.size_bytes", props.FileSizeBytes),
	)
	for _, w := range props.Warnings {
		logger.Warn(ctx, p.log, "Probe warning", "path", path, "warning", w)
	}

	return props, nil
}

func (p *Prober) probe(ctx context.Context, path string) (models.VideoProperties, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return models.VideoProperties{}, probeError("file does not exist")
	case err != nil:
		return models.VideoProperties{}, probeError("stat failed: %v", err)
	case info.IsDir():
		return models.VideoProperties{}, probeError("path is a directory")
	case info.Size() == 0:
		return models.VideoProperties{}, probeError("file is empty")
	case info.Size() < models.MinSourceFileBytes:
		return models.VideoProperties{}, probeError("file is %d bytes, treated as corrupt", info.Size())
	}

	meta, err := p.meta.ReadMetadata(ctx, path)
	if err != nil {
		return models.VideoProperties{}, probeError("cannot open container: %v", err)
	}

	props := models.NewVideoProperties(meta.FrameRate, meta.FrameCount, meta.Width, meta.Height, info.Size())
	if !props.ValidResolution() {
		return models.VideoProperties{}, probeError("resolution %dx%d outside (0, %d]",
			meta.Width, meta.Height, models.MaxSourceDimension)
	}

	if err := p.checkFirstFrame(ctx, path, props.Width, props.Height); err != nil {
		return models.VideoProperties{}, err
	}

	return props, nil
}

// checkFirstFrame decodes one frame. The reader is closed on every path,
// including a panicking decoder.
func (p *Prober) checkFirstFrame(ctx context.Context, path string, width, height int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = probeError("decoder panic: %v", rec)
		}
	}()

	reader, err := p.decoder.Open(ctx, path, width, height)
	if err != nil {
		return probeError("cannot open video stream: %v", err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			logger.Debug(ctx, p.log, "Closing probe reader failed", "error", cerr)
		}
	}()

	frame, err := reader.ReadFrame()
	if err != nil {
		return probeError("first frame unreadable: %v", err)
	}
	if frame == nil || frame.Bounds().Empty() {
		return probeError("first frame is empty")
	}
	return nil
}

func probeError(format string, args ...any) error {
	return models.NewStageError(models.StageProbe, models.ErrProbeFailed, format, args...)
}
