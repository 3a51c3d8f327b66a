package solver

import (
	"bytes"
	"context"
	"image"
	"image/gif"
	"testing"

	"github.com/amillerrr/gif-pipeline/internal/gifenc"
	"github.com/amillerrr/gif-pipeline/internal/media/mediatest"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

func sourceFrames(n, w, h int) []*image.RGBA {
	out := make([]*image.RGBA, n)
	for i := range out {
		out[i] = mediatest.Pattern(w, h, i)
	}
	return out
}

func encodeFrames(t *testing.T, src []*image.RGBA, params models.ConversionParams) []byte {
	t.Helper()
	data, err := gifenc.NewEncoder(nil).Encode(src, gifenc.OptionsFor(params))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

func bytesConstraint(op models.Operator, n int) models.SizeConstraint {
	return models.SizeConstraint{Operator: op, Value: float64(n), Unit: "B", Enabled: true}
}

func TestFit_AlreadySatisfied(t *testing.T) {
	params := models.ConversionParams{FPS: 10, Quality: 85, Width: 48, Height: 36, Optimize: true}
	src := sourceFrames(8, 48, 36)
	data := encodeFrames(t, src, params)

	res, err := NewOptimizer(OptimizerConfig{}).Fit(context.Background(), src, params, bytesConstraint(models.OpLess, len(data)+1), data)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if !res.Satisfied || res.Passes != 0 || !bytes.Equal(res.Data, data) {
		t.Errorf("Fit() = passes %d satisfied %v, want untouched data", res.Passes, res.Satisfied)
	}
}

func TestFit_Shrinks(t *testing.T) {
	params := models.ConversionParams{FPS: 20, Quality: 95, Width: 160, Height: 120, Optimize: true}
	src := sourceFrames(40, 160, 120)
	data := encodeFrames(t, src, params)
	constraint := bytesConstraint(models.OpLess, len(data)/3)

	res, err := NewOptimizer(OptimizerConfig{}).Fit(context.Background(), src, params, constraint, data)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if len(res.Data) >= len(data) {
		t.Errorf("Fit() = %d bytes, want less than %d", len(res.Data), len(data))
	}
	if res.Passes < 1 || res.Passes > DefaultMaxPasses {
		t.Errorf("Passes = %d, want 1..%d", res.Passes, DefaultMaxPasses)
	}
	if res.Satisfied != constraint.Check(int64(len(res.Data))) {
		t.Errorf("Satisfied = %v disagrees with size %d", res.Satisfied, len(res.Data))
	}

	g, err := gif.DecodeAll(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("result does not decode: %v", err)
	}
	if g.Config.Width != res.Params.Width || g.Config.Height != res.Params.Height {
		t.Errorf("result is %dx%d, params say %dx%d", g.Config.Width, g.Config.Height, res.Params.Width, res.Params.Height)
	}
}

func TestFit_EscalatesWhenFrameRateCutIsTooSmall(t *testing.T) {
	// Quality already sits under the first stage's floor and 10fps to 9fps
	// drops no frame, so only the later stages can shrink the output.
	params := models.ConversionParams{FPS: 10, Quality: 70, Width: 320, Height: 240, Optimize: true}
	src := sourceFrames(40, 320, 240)
	data := encodeFrames(t, src, params)
	constraint := bytesConstraint(models.OpLess, len(data)*9/10)

	res, err := NewOptimizer(OptimizerConfig{}).Fit(context.Background(), src, params, constraint, data)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if res.Passes == 0 {
		t.Fatalf("Fit() gave up after 0 passes at %s", params)
	}
	if len(res.Data) >= len(data) {
		t.Errorf("Fit() = %d bytes, want less than %d", len(res.Data), len(data))
	}
	if res.Params.Width >= params.Width {
		t.Errorf("Params = %s, want reduced dimensions", res.Params)
	}
}

func TestReduceStep(t *testing.T) {
	src := sourceFrames(10, 320, 240)

	t.Run("skips a stage that changes nothing once applied", func(t *testing.T) {
		p := models.ConversionParams{FPS: 10, Quality: 70, Width: 320, Height: 240}
		out, applied, ok := reduceStep(src, p, 0.9)
		if !ok {
			t.Fatal("reduceStep() ok = false, want a later stage")
		}
		if applied.FPS != 10 || applied.Width >= 320 {
			t.Errorf("applied = %s, want smaller frames at 10fps", applied)
		}
		if len(out) != len(src) || out[0].Bounds().Dx() != applied.Width {
			t.Errorf("got %d frames of width %d, want %d of width %d", len(out), out[0].Bounds().Dx(), len(src), applied.Width)
		}
	})

	t.Run("exhausted at the floor", func(t *testing.T) {
		p := models.ConversionParams{FPS: 4, Quality: 60, Width: 80, Height: 60}
		out, applied, ok := reduceStep(sourceFrames(10, 80, 60), p, 0.5)
		if ok || applied != p || len(out) != 10 {
			t.Errorf("reduceStep() = %s ok %v, want unchanged and not ok", applied, ok)
		}
	})
}

func TestFit_NonDegradableUntouched(t *testing.T) {
	params := models.ConversionParams{FPS: 10, Quality: 85, Width: 48, Height: 36, Optimize: true}
	src := sourceFrames(8, 48, 36)
	data := encodeFrames(t, src, params)

	res, err := NewOptimizer(OptimizerConfig{}).Fit(context.Background(), src, params, bytesConstraint(models.OpGreater, 10*len(data)), data)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if res.Satisfied || res.Passes != 0 || !bytes.Equal(res.Data, data) {
		t.Errorf("Fit() modified output for a > constraint")
	}
}

func TestFit_Canceled(t *testing.T) {
	params := models.ConversionParams{FPS: 10, Quality: 85, Width: 48, Height: 36, Optimize: true}
	src := sourceFrames(8, 48, 36)
	data := encodeFrames(t, src, params)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewOptimizer(OptimizerConfig{}).Fit(ctx, src, params, bytesConstraint(models.OpLess, 10), data); err == nil {
		t.Error("Fit() expected context error")
	}
}

func TestFitGIF(t *testing.T) {
	params := models.ConversionParams{FPS: 10, Quality: 90, Width: 120, Height: 90, Optimize: false}
	data := encodeFrames(t, sourceFrames(20, 120, 90), params)

	res, err := NewOptimizer(OptimizerConfig{}).FitGIF(context.Background(), data, bytesConstraint(models.OpLessEqual, len(data)/2))
	if err != nil {
		t.Fatalf("FitGIF() error = %v", err)
	}
	if len(res.Data) >= len(data) {
		t.Errorf("FitGIF() = %d bytes, want less than %d", len(res.Data), len(data))
	}
}

func TestReduceFrames(t *testing.T) {
	src := sourceFrames(10, 40, 30)
	cur := models.ConversionParams{FPS: 10, Quality: 85, Width: 40, Height: 30}

	t.Run("drops frames", func(t *testing.T) {
		next := cur
		next.FPS = 5
		out, applied := reduceFrames(src, cur, next)
		if len(out) != 5 || applied.FPS != 5 {
			t.Errorf("got %d frames at %d fps, want 5 at 5", len(out), applied.FPS)
		}
	})

	t.Run("small fps change keeps frames", func(t *testing.T) {
		next := cur
		next.FPS = 9
		out, applied := reduceFrames(src, cur, next)
		if len(out) != 10 || applied.FPS != 10 {
			t.Errorf("got %d frames at %d fps, want 10 at 10", len(out), applied.FPS)
		}
	})

	t.Run("rescales", func(t *testing.T) {
		next := cur
		next.Width, next.Height = 20, 15
		out, _ := reduceFrames(src, cur, next)
		if out[0].Bounds() != image.Rect(0, 0, 20, 15) {
			t.Errorf("bounds = %v, want 20x15", out[0].Bounds())
		}
	})
}
