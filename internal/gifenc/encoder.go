// Package gifenc encodes RGBA frame sequences into animated GIFs and decodes
// existing GIFs back into full-canvas frames.
package gifenc

import (
	"bytes"
	"image"
	"image/gif"
	"log/slog"
	"math"
	"time"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

const (
	// MinFrameDelay is the shortest frame delay written, in milliseconds.
	MinFrameDelay = 50
	// DitherQuality is the quality at which error diffusion is enabled.
	DitherQuality = 90
)

// Options control one encode.
type Options struct {
	FPS      int
	Quality  int
	Optimize bool
}

// OptionsFor derives encoder options from conversion params.
func OptionsFor(p models.ConversionParams) Options {
	return Options{FPS: p.FPS, Quality: p.Quality, Optimize: p.Optimize}
}

// DelayFor returns the per-frame delay in 1/100 s for fps.
func DelayFor(fps int) int {
	if fps <= 0 {
		fps = 1
	}
	ms := max(MinFrameDelay, int(math.Round(1000/float64(fps))))
	return int(math.Round(float64(ms) / 10))
}

// Encoder produces GIF bytes from same-sized RGBA frames.
type Encoder struct {
	log *slog.Logger
}

// NewEncoder creates an Encoder.
func NewEncoder(log *slog.Logger) *Encoder {
	return &Encoder{log: logger.OrDefault(log)}
}

// Encode writes frames as an infinitely looping GIF. Errors are
// *models.StageError values wrapping models.ErrEncodeFailed.
func (e *Encoder) Encode(frames []*image.RGBA, opts Options) ([]byte, error) {
	start := time.Now()

	if len(frames) == 0 {
		return nil, encodeError("no frames to encode")
	}
	if frames[0] == nil {
		return nil, encodeError("frame 0 is nil")
	}
	bounds := frames[0].Bounds()
	if bounds.Empty() {
		return nil, encodeError("frame 0 is empty")
	}
	for i, f := range frames[1:] {
		if f == nil {
			return nil, encodeError("frame %d is nil", i+1)
		}
		if f.Bounds().Size() != bounds.Size() {
			return nil, encodeError("frame %d is %v, want %v", i+1, f.Bounds().Size(), bounds.Size())
		}
	}

	size := PaletteSize(opts.Quality)
	dither := opts.Quality >= DitherQuality
	delay := DelayFor(opts.FPS)

	var anim *gif.GIF
	if opts.Optimize {
		anim = encodeShared(frames, size, dither)
	} else {
		anim = encodeLocal(frames, size, dither)
	}
	anim.LoopCount = 0
	anim.Delay = make([]int, len(anim.Image))
	anim.Disposal = make([]byte, len(anim.Image))
	for i := range anim.Image {
		anim.Delay[i] = delay
		anim.Disposal[i] = gif.DisposalNone
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, encodeError("write gif: %v", err)
	}

	metrics.EncodeDuration.Observe(time.Since(start).Seconds())
	e.log.Debug("Encoded gif",
		"frames", len(frames),
		"width", bounds.Dx(),
		"height", bounds.Dy(),
		"quality", opts.Quality,
		"optimize", opts.Optimize,
		"sizeBytes", buf.Len(),
	)
	return buf.Bytes(), nil
}

// encodeShared uses one global palette and marks pixels that did not change
// since the previous frame as transparent.
func encodeShared(frames []*image.RGBA, size int, dither bool) *gif.GIF {
	pal := BuildPalette(frames, size, true)
	q := newQuantizer(pal)

	w, h := frames[0].Rect.Dx(), frames[0].Rect.Dy()
	rect := image.Rect(0, 0, w, h)
	shown := make([]uint8, w*h)
	idx := make([]uint8, w*h)

	anim := &gif.GIF{
		Image:  make([]*image.Paletted, 0, len(frames)),
		Config: image.Config{ColorModel: pal, Width: w, Height: h},
	}
	for i, f := range frames {
		quantize(q, f, idx, dither)

		pm := image.NewPaletted(rect, pal)
		for p := range idx {
			if i > 0 && idx[p] == shown[p] {
				pm.Pix[p] = 0
				continue
			}
			pm.Pix[p] = idx[p]
			shown[p] = idx[p]
		}
		anim.Image = append(anim.Image, pm)
	}
	return anim
}

// encodeLocal gives every frame its own palette.
func encodeLocal(frames []*image.RGBA, size int, dither bool) *gif.GIF {
	w, h := frames[0].Rect.Dx(), frames[0].Rect.Dy()
	rect := image.Rect(0, 0, w, h)

	anim := &gif.GIF{
		Image:  make([]*image.Paletted, 0, len(frames)),
		Config: image.Config{Width: w, Height: h},
	}
	for _, f := range frames {
		pal := BuildPalette([]*image.RGBA{f}, size, false)
		pm := image.NewPaletted(rect, pal)
		quantize(newQuantizer(pal), f, pm.Pix, dither)
		anim.Image = append(anim.Image, pm)
	}
	return anim
}

func quantize(q *quantizer, f *image.RGBA, dst []uint8, dither bool) {
	if dither {
		q.mapDithered(f, dst)
		return
	}
	q.mapPlain(f, dst)
}

func encodeError(format string, args ...any) error {
	return models.NewStageError(models.StageEncode, models.ErrEncodeFailed, format, args...)
}
