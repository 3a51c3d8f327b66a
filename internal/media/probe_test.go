package media

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// Mock metadata reader
type mockMetadata struct {
	meta  *Metadata
	err   error
	calls int
}

func (m *mockMetadata) ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	meta := *m.meta
	return &meta, nil
}

// Mock decoder tracking open and close calls
type mockDecoder struct {
	openErr     error
	readErr     error
	panicOnRead bool
	opened      int
	closed      int
}

func (m *mockDecoder) Open(ctx context.Context, path string, width, height int) (FrameReader, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opened++
	return &mockReader{dec: m, width: width, height: height}, nil
}

type mockReader struct {
	dec    *mockDecoder
	width  int
	height int
}

func (r *mockReader) ReadFrame() (image.Image, error) {
	if r.dec.panicOnRead {
		panic("corrupt bitstream")
	}
	if r.dec.readErr != nil {
		return nil, r.dec.readErr
	}
	return image.NewRGBA(image.Rect(0, 0, r.width, r.height)), nil
}

func (r *mockReader) SkipFrame() error { return r.dec.readErr }

func (r *mockReader) Close() error {
	r.dec.closed++
	return nil
}

func writeFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func validMetadata() *Metadata {
	return &Metadata{Width: 640, Height: 480, FrameRate: 24, FrameCount: 72}
}

func TestProber_Probe(t *testing.T) {
	path := writeFile(t, 4096)
	prober := NewProber(&ProberConfig{
		Metadata: &mockMetadata{meta: validMetadata()},
		Decoder:  &mockDecoder{},
	})

	props, err := prober.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if props.Width != 640 || props.Height != 480 {
		t.Errorf("resolution = %dx%d, want 640x480", props.Width, props.Height)
	}
	if props.DurationSeconds != 3 {
		t.Errorf("DurationSeconds = %v, want 3", props.DurationSeconds)
	}
	if props.FileSizeBytes != 4096 {
		t.Errorf("FileSizeBytes = %v, want 4096", props.FileSizeBytes)
	}
	if len(props.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", props.Warnings)
	}
}

func TestProber_Probe_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		missing bool
		meta    *Metadata
		metaErr error
		dec     *mockDecoder
	}{
		{name: "missing file", missing: true, meta: validMetadata(), dec: &mockDecoder{}},
		{name: "empty file", size: 0, meta: validMetadata(), dec: &mockDecoder{}},
		{name: "corrupt 500 byte file", size: 500, meta: validMetadata(), dec: &mockDecoder{}},
		{name: "unopenable container", size: 4096, metaErr: errors.New("moov atom not found"), dec: &mockDecoder{}},
		{name: "oversized width", size: 4096, meta: &Metadata{Width: 8000, Height: 480, FrameRate: 24, FrameCount: 10}, dec: &mockDecoder{}},
		{name: "zero height", size: 4096, meta: &Metadata{Width: 640, Height: 0, FrameRate: 24, FrameCount: 10}, dec: &mockDecoder{}},
		{name: "stream will not open", size: 4096, meta: validMetadata(), dec: &mockDecoder{openErr: errors.New("no decoder")}},
		{name: "first frame unreadable", size: 4096, meta: validMetadata(), dec: &mockDecoder{readErr: io.EOF}},
		{name: "decoder panics", size: 4096, meta: validMetadata(), dec: &mockDecoder{panicOnRead: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.mp4")
			if !tt.missing {
				path = writeFile(t, tt.size)
			}

			prober := NewProber(&ProberConfig{
				Metadata: &mockMetadata{meta: tt.meta, err: tt.metaErr},
				Decoder:  tt.dec,
			})

			props, err := prober.Probe(context.Background(), path)
			if !errors.Is(err, models.ErrProbeFailed) {
				t.Fatalf("Probe() error = %v, want ErrProbeFailed", err)
			}

			var stageErr *models.StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != models.StageProbe {
				t.Errorf("error %v does not name the probe stage", err)
			}
			if props.Width != 0 || props.FrameCount != 0 {
				t.Errorf("Probe() returned properties %+v on failure", props)
			}
			if tt.dec.opened != tt.dec.closed {
				t.Errorf("opened %d readers, closed %d", tt.dec.opened, tt.dec.closed)
			}
		})
	}
}

func TestProber_Probe_SmallFileNeverOpened(t *testing.T) {
	meta := &mockMetadata{meta: validMetadata()}
	dec := &mockDecoder{}
	prober := NewProber(&ProberConfig{Metadata: meta, Decoder: dec})

	_, err := prober.Probe(context.Background(), writeFile(t, 500))
	if !errors.Is(err, models.ErrProbeFailed) {
		t.Fatalf("Probe() error = %v, want ErrProbeFailed", err)
	}
	if meta.calls != 0 || dec.opened != 0 {
		t.Errorf("corrupt file reached metadata (%d) or decoder (%d)", meta.calls, dec.opened)
	}
}

func TestProber_Probe_HandlesStableAcrossFailures(t *testing.T) {
	path := writeFile(t, 4096)
	dec := &mockDecoder{readErr: errors.New("invalid NAL unit")}
	prober := NewProber(&ProberConfig{
		Metadata: &mockMetadata{meta: validMetadata()},
		Decoder:  dec,
	})

	const attempts = 50
	for i := 0; i < attempts; i++ {
		if _, err := prober.Probe(context.Background(), path); err == nil {
			t.Fatal("Probe() expected error")
		}
	}

	if dec.opened != attempts || dec.closed != attempts {
		t.Errorf("opened %d, closed %d, want %d each", dec.opened, dec.closed, attempts)
	}
}

func TestProber_Probe_ClampsAnomalies(t *testing.T) {
	prober := NewProber(&ProberConfig{
		Metadata: &mockMetadata{meta: &Metadata{Width: 320, Height: 240, FrameRate: 1000, FrameCount: 0}},
		Decoder:  &mockDecoder{},
	})

	props, err := prober.Probe(context.Background(), writeFile(t, 2048))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if props.FrameRate != models.DefaultFrameRate {
		t.Errorf("FrameRate = %v, want %v", props.FrameRate, models.DefaultFrameRate)
	}
	if props.FrameCount != models.DefaultFrameCount {
		t.Errorf("FrameCount = %v, want %v", props.FrameCount, models.DefaultFrameCount)
	}
	if len(props.Warnings) != 2 {
		t.Errorf("Warnings = %v, want 2", props.Warnings)
	}
}
