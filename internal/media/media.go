// Package media probes source videos and decodes their frames.
package media

import (
	"context"
	"image"
)

// Metadata is the raw container information reported by a MetadataReader.
// Values are unvalidated.
type Metadata struct {
	Width           int
	Height          int
	FrameRate       float64
	FrameCount      int
	DurationSeconds float64
	FormatName      string
	VideoCodec      string
}

// MetadataReader reads container metadata without decoding frames.
type MetadataReader interface {
	ReadMetadata(ctx context.Context, path string) (*Metadata, error)
}

// FrameReader yields decoded source frames in presentation order.
// ReadFrame and SkipFrame return io.EOF after the last frame.
type FrameReader interface {
	ReadFrame() (image.Image, error)
	SkipFrame() error
	Close() error
}

// Decoder opens a frame stream at the given source geometry.
type Decoder interface {
	Open(ctx context.Context, path string, width, height int) (FrameReader, error)
}
