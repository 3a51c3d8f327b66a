// Package mediatest provides synthetic media sources for tests.
package mediatest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync/atomic"

	"github.com/amillerrr/gif-pipeline/internal/media"
)

// Decoder produces a deterministic animated test pattern.
type Decoder struct {
	// Frames is the number of source frames in the stream.
	Frames int
	// BadFrames lists source positions that decode to an empty image.
	BadFrames map[int]bool
	// OpenErr is returned by Open when set.
	OpenErr error

	opens  atomic.Int64
	closes atomic.Int64
	reads  atomic.Int64
}

// Opens returns how many readers were opened.
func (d *Decoder) Opens() int64 { return d.opens.Load() }

// Closes returns how many readers were closed.
func (d *Decoder) Closes() int64 { return d.closes.Load() }

// Reads returns how many frames were decoded or skipped.
func (d *Decoder) Reads() int64 { return d.reads.Load() }

// Open returns a reader over the test pattern at width x height.
func (d *Decoder) Open(ctx context.Context, path string, width, height int) (media.FrameReader, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if width <= 0 || height <= 0 {
		return nil, errors.New("invalid geometry")
	}
	d.opens.Add(1)
	return &reader{dec: d, width: width, height: height}, nil
}

type reader struct {
	dec    *Decoder
	width  int
	height int
	pos    int
	closed bool
}

func (r *reader) next() (int, error) {
	if r.closed || r.pos >= r.dec.Frames {
		return 0, io.EOF
	}
	pos := r.pos
	r.pos++
	r.dec.reads.Add(1)
	return pos, nil
}

func (r *reader) ReadFrame() (image.Image, error) {
	pos, err := r.next()
	if err != nil {
		return nil, err
	}
	if r.dec.BadFrames[pos] {
		return image.NewRGBA(image.Rectangle{}), nil
	}
	return Pattern(r.width, r.height, pos), nil
}

func (r *reader) SkipFrame() error {
	_, err := r.next()
	return err
}

func (r *reader) Close() error {
	if !r.closed {
		r.closed = true
		r.dec.closes.Add(1)
	}
	return nil
}

// Pattern draws frame n of a moving gradient with a bouncing block.
func Pattern(width, height, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*255/max(1, width) + n*7) % 256),
				G: uint8(y * 255 / max(1, height)),
				B: uint8((x + y + n*3) % 256),
				A: 0xff,
			})
		}
	}

	size := max(2, min(width, height)/4)
	ox := (n * 5) % max(1, width-size)
	oy := (n * 3) % max(1, height-size)
	for y := oy; y < oy+size && y < height; y++ {
		for x := ox; x < ox+size && x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 250, G: 250, B: 250, A: 0xff})
		}
	}
	return img
}

// Metadata returns fixed metadata.
type Metadata struct {
	Meta media.Metadata
	Err  error
}

// ReadMetadata implements media.MetadataReader.
func (m *Metadata) ReadMetadata(ctx context.Context, path string) (*media.Metadata, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	meta := m.Meta
	return &meta, nil
}
