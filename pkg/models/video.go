package models

import "fmt"

// Probe limits and substitutes.
const (
	MaxSourceDimension = 4000
	MaxFrameRate       = 120.0
	DefaultFrameRate   = 25.0
	DefaultFrameCount  = 1
	MinSourceFileBytes = 1024
)

// VideoProperties is an immutable snapshot of a probed source video.
type VideoProperties struct {
	FrameRate       float64  `json:"frameRate"`
	FrameCount      int      `json:"frameCount"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	DurationSeconds float64  `json:"durationSeconds"`
	FileSizeBytes   int64    `json:"fileSizeBytes"`
	Warnings        []string `json:"warnings,omitempty"`
}

// NewVideoProperties derives the duration and applies the frame rate and
// frame count substitutions. Resolution is validated by the prober, not here.
func NewVideoProperties(frameRate float64, frameCount, width, height int, fileSize int64) VideoProperties {
	p := VideoProperties{
		FrameRate:     frameRate,
		FrameCount:    frameCount,
		Width:         width,
		Height:        height,
		FileSizeBytes: fileSize,
	}

	if p.FrameRate <= 0 || p.FrameRate > MaxFrameRate {
		p.Warnings = append(p.Warnings, fmt.Sprintf("frame rate %.2f out of range, using %.1f", frameRate, DefaultFrameRate))
		p.FrameRate = DefaultFrameRate
	}
	if p.FrameCount <= 0 {
		p.Warnings = append(p.Warnings, fmt.Sprintf("frame count %d unreadable, using %d", frameCount, DefaultFrameCount))
		p.FrameCount = DefaultFrameCount
	}

	p.DurationSeconds = float64(p.FrameCount) / p.FrameRate
	return p
}

// ValidResolution reports whether both axes are in (0, MaxSourceDimension].
func (p VideoProperties) ValidResolution() bool {
	return p.Width > 0 && p.Height > 0 &&
		p.Width <= MaxSourceDimension && p.Height <= MaxSourceDimension
}

// Fingerprint identifies the source for suggestion caching.
func (p VideoProperties) Fingerprint() string {
	return fmt.Sprintf("%dx%d_%.1ffps_%.1fs", p.Width, p.Height, p.FrameRate, p.DurationSeconds)
}
