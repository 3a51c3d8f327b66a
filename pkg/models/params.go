package models

import "fmt"

// Parameter ranges accepted from any caller.
const (
	MinFPS       = 1
	MaxFPS       = 30
	MinQuality   = 50
	MaxQuality   = 100
	MinDimension = 10
	MaxDimension = 2000

	DefaultFPS     = 10
	DefaultQuality = 85
)

// ConversionParams is the mutable parameter record consumed by the encoder.
type ConversionParams struct {
	FPS      int  `json:"fps"`
	Quality  int  `json:"quality"`
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Optimize bool `json:"optimize"`
}

// DefaultParams returns the starting parameters for a source.
func DefaultParams(props VideoProperties) ConversionParams {
	p := ConversionParams{
		FPS:      DefaultFPS,
		Quality:  DefaultQuality,
		Width:    props.Width,
		Height:   props.Height,
		Optimize: true,
	}
	return p.Clamp(props)
}

// Clamp returns a copy with every field forced into its legal range.
// Zero dimensions are taken from the source.
func (p ConversionParams) Clamp(props VideoProperties) ConversionParams {
	p.FPS = clampInt(p.FPS, MinFPS, MaxFPS)
	p.Quality = clampInt(p.Quality, MinQuality, MaxQuality)

	if p.Width <= 0 {
		p.Width = props.Width
	}
	if p.Height <= 0 {
		p.Height = props.Height
	}
	p.Width = clampInt(p.Width, 1, maxDimensionFor(props.Width))
	p.Height = clampInt(p.Height, 1, maxDimensionFor(props.Height))
	return p
}

// Validate reports the first out-of-range field.
func (p ConversionParams) Validate(props VideoProperties) error {
	switch {
	case p.FPS < MinFPS || p.FPS > MaxFPS:
		return fmt.Errorf("%w: fps %d not in [%d,%d]", ErrInvalidParams, p.FPS, MinFPS, MaxFPS)
	case p.Quality < MinQuality || p.Quality > MaxQuality:
		return fmt.Errorf("%w: quality %d not in [%d,%d]", ErrInvalidParams, p.Quality, MinQuality, MaxQuality)
	case p.Width <= 0 || p.Width > maxDimensionFor(props.Width):
		return fmt.Errorf("%w: width %d not in (0,%d]", ErrInvalidParams, p.Width, maxDimensionFor(props.Width))
	case p.Height <= 0 || p.Height > maxDimensionFor(props.Height):
		return fmt.Errorf("%w: height %d not in (0,%d]", ErrInvalidParams, p.Height, maxDimensionFor(props.Height))
	}
	return nil
}

// Fingerprint is the estimate cache key. Optimize is not part of it.
func (p ConversionParams) Fingerprint() string {
	return fmt.Sprintf("%dx%d_%dfps_%dq", p.Width, p.Height, p.FPS, p.Quality)
}

func (p ConversionParams) String() string {
	return fmt.Sprintf("%dx%d@%dfps q%d optimize=%t", p.Width, p.Height, p.FPS, p.Quality, p.Optimize)
}

// maxDimensionFor bounds a target axis to twice the source and MaxDimension.
func maxDimensionFor(source int) int {
	limit := MaxDimension
	if source > 0 && 2*source < limit {
		limit = 2 * source
	}
	return limit
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
