package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var tracer = otel.Tracer("gif-media")

// FFmpegDecoder decodes video frames to raw RGB through an ffmpeg subprocess.
type FFmpegDecoder struct {
	bin string
	log *slog.Logger
}

// NewFFmpegDecoder creates a decoder using the given ffmpeg binary.
func NewFFmpegDecoder(bin string, log *slog.Logger) *FFmpegDecoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegDecoder{bin: bin, log: logger.OrDefault(log)}
}

// Open starts ffmpeg and returns a reader over its rgb24 frame stream.
// Frames are scaled to width x height so every frame has a fixed byte size,
// even when the container carries rotation metadata.
func (d *FFmpegDecoder) Open(ctx context.Context, path string, width, height int) (FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid decode geometry %dx%d", width, height)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, d.bin, buildDecodeArgs(path, width, height)...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", models.ErrFFmpegFailed, err)
	}

	r := &ffmpegReader{
		cmd:    cmd,
		cancel: cancel,
		stdout: bufio.NewReaderSize(stdoutPipe, width*height*3),
		buf:    make([]byte, width*height*3),
		width:  width,
		height: height,
		log:    d.log,
	}

	// Monitor stderr for errors
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.monitorOutput(stderrPipe)
	}()

	return r, nil
}

func buildDecodeArgs(path string, width, height int) []string {
	return []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-an", "-sn", "-dn",
		"-vf", "scale=" + strconv.Itoa(width) + ":" + strconv.Itoa(height),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	}
}

type ffmpegReader struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *bufio.Reader
	buf    []byte
	width  int
	height int
	log    *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	lastErr  string
	done     bool
	waitOnce sync.Once
	waitErr  error
}

// ReadFrame reads the next frame into a new RGBA image.
func (r *ffmpegReader) ReadFrame() (image.Image, error) {
	if err := r.readRaw(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	src, dst := r.buf, img.Pix
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
		dst[j+3] = 0xff
	}
	return img, nil
}

// SkipFrame consumes the next frame without converting it.
func (r *ffmpegReader) SkipFrame() error {
	return r.readRaw()
}

func (r *ffmpegReader) readRaw() error {
	if r.done {
		return io.EOF
	}

	_, err := io.ReadFull(r.stdout, r.buf)
	if err == nil {
		return nil
	}

	r.done = true
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if werr := r.wait(); werr != nil {
			return werr
		}
		return io.EOF
	}
	return err
}

// wait reaps the process once all pipe reads are finished.
func (r *ffmpegReader) wait() error {
	r.waitOnce.Do(func() {
		r.wg.Wait()
		if err := r.cmd.Wait(); err != nil {
			r.mu.Lock()
			detail := r.lastErr
			r.mu.Unlock()
			if detail != "" {
				r.waitErr = fmt.Errorf("%w: %v: %s", models.ErrFFmpegFailed, err, detail)
			} else {
				r.waitErr = fmt.Errorf("%w: %v", models.ErrFFmpegFailed, err)
			}
		}
	})
	return r.waitErr
}

// Close stops ffmpeg if it is still running and reaps it.
func (r *ffmpegReader) Close() error {
	r.done = true
	r.cancel()
	_ = r.wait()
	return nil
}

// monitorOutput keeps the last error line for diagnostics.
func (r *ffmpegReader) monitorOutput(rd io.Reader) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.mu.Lock()
		r.lastErr = line
		r.mu.Unlock()
		r.log.Debug("FFmpeg output", "output", line)
	}
	if err := scanner.Err(); err != nil {
		r.log.Warn("FFmpeg output scanner error", "error", err)
	}
}
