package suggest

import (
	"math"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// compactSkip bounds below which the compact template is not offered.
const (
	compactSkipSeconds = 10
	compactSkipBytes   = 20 * 1024 * 1024
)

type template struct {
	name        string
	description string
	maxFPS      int
	fixedFPS    int
	quality     int
	maxWidth    int
	maxHeight   int
	targetMB    float64
}

var templates = []template{
	{
		name:        "High quality",
		description: "Keeps the highest visual quality, for presentations and professional use",
		maxFPS:      15,
		quality:     95,
		targetMB:    10,
	},
	{
		name:        "Balanced",
		description: "Balances quality against file size, for general sharing",
		maxFPS:      12,
		quality:     85,
		maxWidth:    640,
		maxHeight:   480,
		targetMB:    5,
	},
	{
		name:        "Compact share",
		description: "Strong compression for messaging and limited storage",
		fixedFPS:    8,
		quality:     75,
		maxWidth:    480,
		maxHeight:   360,
		targetMB:    2,
	},
}

// Fallback returns the offline suggestion templates for props. Estimates
// and relaxation are applied by the Generator.
func Fallback(props models.VideoProperties) []models.Suggestion {
	out := make([]models.Suggestion, 0, len(templates))
	for _, t := range templates {
		if t.fixedFPS > 0 && props.DurationSeconds <= compactSkipSeconds && props.FileSizeBytes <= compactSkipBytes {
			continue
		}
		out = append(out, t.suggestion(props))
	}
	return out
}

func (t template) suggestion(props models.VideoProperties) models.Suggestion {
	fps := t.fixedFPS
	if fps == 0 {
		fps = min(int(props.FrameRate), t.maxFPS)
	}

	width, height := props.Width, props.Height
	if t.maxWidth > 0 {
		width, height = fitWithin(width, height, t.maxWidth, t.maxHeight)
	}

	params := models.ConversionParams{
		FPS:      fps,
		Quality:  t.quality,
		Width:    width,
		Height:   height,
		Optimize: true,
	}

	return models.Suggestion{
		Name:        t.name,
		Description: t.description,
		Params:      params.Clamp(props),
		Constraint:  models.SizeConstraint{Operator: models.OpLess, Value: t.targetMB, Unit: "MB", Enabled: true},
		Source:      models.SourceFallback,
	}
}

// fitWithin scales w x h down to fit maxW x maxH, keeping the aspect ratio.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(models.MinDimension, int(math.Round(float64(w)*scale))),
		max(models.MinDimension, int(math.Round(float64(h)*scale)))
}
