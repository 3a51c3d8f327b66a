package solver

import (
	"math"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// Stage is one row of the degrade table. A stage is chosen by the ratio
// target/estimate: the first stage whose MinRatio is <= ratio applies.
type Stage struct {
	MinRatio float64

	// DimExponent scales width and height by ratio^DimExponent. Zero keeps
	// the dimensions unchanged.
	DimExponent float64
	MinWidth    int
	MinHeight   int

	QualityFactor float64
	QualityFloor  int
	FPSFactor     float64
	FPSFloor      int
}

// Stages is ordered from the gentlest to the most aggressive reduction.
var Stages = []Stage{
	{MinRatio: 0.8, QualityFactor: 0.95, QualityFloor: 75, FPSFactor: 0.9, FPSFloor: 8},
	{MinRatio: 0.6, DimExponent: 0.3, MinWidth: 160, MinHeight: 120, QualityFactor: 0.9, QualityFloor: 70, FPSFactor: 0.8, FPSFloor: 6},
	{MinRatio: 0.4, DimExponent: 0.4, MinWidth: 120, MinHeight: 90, QualityFactor: 0.85, QualityFloor: 65, FPSFactor: 0.7, FPSFloor: 5},
	{MinRatio: 0, DimExponent: 0.5, MinWidth: 80, MinHeight: 60, QualityFactor: 0.8, QualityFloor: 60, FPSFactor: 0.6, FPSFloor: 4},
}

// StageFor returns the stage for ratio.
func StageFor(ratio float64) Stage {
	return Stages[stageIndex(ratio)]
}

func stageIndex(ratio float64) int {
	for i, s := range Stages {
		if ratio >= s.MinRatio {
			return i
		}
	}
	return len(Stages) - 1
}

// Next applies the stage for ratio. When that stage changes nothing because
// its floors are already reached, the following stages are tried in order.
// ok is false once every remaining stage is exhausted.
func Next(p models.ConversionParams, ratio float64) (next models.ConversionParams, ok bool) {
	for i := stageIndex(ratio); i < len(Stages); i++ {
		if next = Stages[i].Apply(p, ratio); next != p {
			return next, true
		}
	}
	return p, false
}

// Apply returns p reduced by the stage. Floors never raise a value that is
// already below them.
func (s Stage) Apply(p models.ConversionParams, ratio float64) models.ConversionParams {
	if s.DimExponent > 0 {
		scale := math.Pow(ratio, s.DimExponent)
		p.Width = floored(p.Width, int(float64(p.Width)*scale), s.MinWidth)
		p.Height = floored(p.Height, int(float64(p.Height)*scale), s.MinHeight)
	}
	p.Quality = floored(p.Quality, int(float64(p.Quality)*s.QualityFactor), s.QualityFloor)
	p.FPS = floored(p.FPS, int(float64(p.FPS)*s.FPSFactor), s.FPSFloor)
	return p
}

// Floor returns the lowest params any stage sequence can reach from p.
func Floor(p models.ConversionParams) models.ConversionParams {
	last := Stages[len(Stages)-1]
	p.Width = min(p.Width, last.MinWidth)
	p.Height = min(p.Height, last.MinHeight)
	p.Quality = min(p.Quality, last.QualityFloor)
	p.FPS = min(p.FPS, last.FPSFloor)
	return p
}

func floored(current, scaled, floor int) int {
	return min(current, max(floor, scaled))
}
