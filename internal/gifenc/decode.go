package gifenc

import (
	"bytes"
	"image"
	"image/draw"
	"image/gif"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// Animation is a decoded GIF as composited full-canvas frames.
type Animation struct {
	Frames []*image.RGBA
	// Delay is the first frame delay in 1/100 s.
	Delay int
}

// FPS returns the frame rate implied by Delay, within the conversion range.
func (a *Animation) FPS() int {
	if a.Delay <= 0 {
		return models.DefaultFPS
	}
	fps := (100 + a.Delay/2) / a.Delay
	return min(max(fps, models.MinFPS), models.MaxFPS)
}

// DecodeFrames decodes data and renders every frame onto the logical screen,
// honouring each frame's disposal method.
func DecodeFrames(data []byte) (*Animation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewStageError(models.StageProbe, models.ErrProbeFailed, "decode gif: %v", err)
	}
	if len(g.Image) == 0 {
		return nil, models.NewStageError(models.StageProbe, models.ErrProbeFailed, "gif has no frames")
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	anim := &Animation{Frames: make([]*image.RGBA, 0, len(g.Image))}
	if len(g.Delay) > 0 {
		anim.Delay = g.Delay[0]
	}

	var saved *image.RGBA
	for i, frame := range g.Image {
		disposal := byte(gif.DisposalNone)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			saved = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		anim.Frames = append(anim.Frames, cloneRGBA(canvas))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			if saved != nil {
				copy(canvas.Pix, saved.Pix)
			}
		}
	}
	return anim, nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
