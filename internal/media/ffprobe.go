package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// FFprobeOutput represents the subset of ffprobe JSON output we read.
type FFprobeOutput struct {
	Streams []struct {
		Index        int    `json:"index"`
		CodecName    string `json:"codec_name"`
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
}

// FFprobe reads metadata with the ffprobe binary.
type FFprobe struct {
	bin string
}

// NewFFprobe creates a MetadataReader using the given ffprobe binary.
func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{bin: bin}
}

// ReadMetadata runs ffprobe and returns the first video stream's metadata.
func (f *FFprobe) ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	ctx, span := tracer.Start(ctx, "ffprobe")
	defer span.End()

	cmd := exec.CommandContext(ctx, f.bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrFFmpegFailed, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%w: %v", models.ErrFFmpegFailed, err)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (*Metadata, error) {
	var probe FFprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	meta := &Metadata{FormatName: probe.Format.FormatName}
	meta.DurationSeconds = parseFloat(probe.Format.Duration)

	found := false
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.VideoCodec = stream.CodecName

		// avg_frame_rate is 0/0 for some containers; r_frame_rate is the fallback.
		meta.FrameRate = parseFrameRate(stream.AvgFrameRate)
		if meta.FrameRate <= 0 {
			meta.FrameRate = parseFrameRate(stream.RFrameRate)
		}

		if d := parseFloat(stream.Duration); d > 0 {
			meta.DurationSeconds = d
		}

		if n, err := strconv.Atoi(stream.NbFrames); err == nil && n > 0 {
			meta.FrameCount = n
		} else if meta.DurationSeconds > 0 && meta.FrameRate > 0 {
			meta.FrameCount = int(math.Round(meta.DurationSeconds * meta.FrameRate))
		}
		break
	}

	if !found {
		return nil, errors.New("no video stream found")
	}

	return meta, nil
}

// parseFrameRate parses frame rate string like "30/1" or "29.97".
func parseFrameRate(frameRateStr string) float64 {
	if strings.Contains(frameRateStr, "/") {
		parts := strings.Split(frameRateStr, "/")
		if len(parts) == 2 {
			num, err1 := strconv.ParseFloat(parts[0], 64)
			den, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 == nil && err2 == nil && den != 0 {
				return num / den
			}
		}
		return 0
	}
	return parseFloat(frameRateStr)
}

func parseFloat(s string) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return 0
}
