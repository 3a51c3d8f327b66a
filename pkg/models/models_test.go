package models

import (
	"errors"
	"testing"
)

func TestParseSizeConstraint(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		value     float64
		unit      string
		wantBytes int64
		wantErr   bool
	}{
		{"megabytes", "<", 5, "MB", 5 * 1024 * 1024, false},
		{"kilobytes lowercase", "<=", 800, "kb", 800 * 1024, false},
		{"bytes", ">", 100, "B", 100, false},
		{"gigabytes", ">=", 1.5, "GB", 1610612736, false},
		{"equal", "=", 2, "MB", 2 * 1024 * 1024, false},
		{"unknown operator", "!=", 5, "MB", 0, true},
		{"unknown unit", "<", 5, "TB", 0, true},
		{"zero value", "<", 0, "MB", 0, true},
		{"negative value", "<", -1, "MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseSizeConstraint(tt.op, tt.value, tt.unit, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSizeConstraint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConstraint) {
					t.Errorf("error = %v, want ErrInvalidConstraint", err)
				}
				return
			}
			if got := c.TargetBytes(); got != tt.wantBytes {
				t.Errorf("TargetBytes() = %d, want %d", got, tt.wantBytes)
			}
		})
	}
}

func TestParseSizeConstraintString(t *testing.T) {
	tests := []struct {
		in      string
		wantOp  Operator
		wantVal float64
		wantU   string
		wantErr bool
	}{
		{"< 5MB", OpLess, 5, "MB", false},
		{"<=800 KB", OpLessEqual, 800, "KB", false},
		{">= 1.5 gb", OpGreaterEqual, 1.5, "GB", false},
		{"= 2MB", OpEqual, 2, "MB", false},
		{"5MB", "", 0, "", true},
		{"< MB", "", 0, "", true},
		{"< 5", "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseSizeConstraintString(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSizeConstraintString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.Operator != tt.wantOp || c.Value != tt.wantVal || c.Unit != tt.wantU || !c.Enabled {
				t.Errorf("ParseSizeConstraintString(%q) = %+v", tt.in, c)
			}
		})
	}
}

func TestSizeConstraint_Check(t *testing.T) {
	const mb = 1024 * 1024

	tests := []struct {
		name string
		c    SizeConstraint
		size int64
		want bool
	}{
		{"less satisfied", SizeConstraint{OpLess, 5, "MB", true}, 4 * mb, true},
		{"less boundary", SizeConstraint{OpLess, 5, "MB", true}, 5 * mb, false},
		{"less equal boundary", SizeConstraint{OpLessEqual, 5, "MB", true}, 5 * mb, true},
		{"greater", SizeConstraint{OpGreater, 1, "MB", true}, 2 * mb, true},
		{"greater equal fails", SizeConstraint{OpGreaterEqual, 3, "MB", true}, 2 * mb, false},
		{"equal within tolerance", SizeConstraint{OpEqual, 10, "MB", true}, 11 * mb, true},
		{"equal outside tolerance", SizeConstraint{OpEqual, 10, "MB", true}, 12 * mb, false},
		{"disabled always passes", SizeConstraint{OpLess, 1, "KB", false}, 100 * mb, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Check(tt.size); got != tt.want {
				t.Errorf("Check(%d) = %v, want %v", tt.size, got, tt.want)
			}
		})
	}
}

func TestSizeConstraint_Degradable(t *testing.T) {
	for _, op := range []Operator{OpLess, OpLessEqual} {
		if !(SizeConstraint{Operator: op, Value: 1, Unit: "MB", Enabled: true}).Degradable() {
			t.Errorf("%s should be degradable", op)
		}
	}
	for _, op := range []Operator{OpGreater, OpGreaterEqual, OpEqual} {
		if (SizeConstraint{Operator: op, Value: 1, Unit: "MB", Enabled: true}).Degradable() {
			t.Errorf("%s should not be degradable", op)
		}
	}
	if (SizeConstraint{Operator: OpLess, Value: 1, Unit: "MB"}).Degradable() {
		t.Error("disabled constraint should not be degradable")
	}
}

func TestSizeConstraint_Relaxed(t *testing.T) {
	c := SizeConstraint{Operator: OpLess, Value: 5, Unit: "MB", Enabled: true}
	size := int64(7 * 1024 * 1024)

	relaxed := c.Relaxed(size, 1.3)
	if relaxed.Unit != "MB" || relaxed.Operator != OpLess {
		t.Errorf("Relaxed() changed unit or operator: %+v", relaxed)
	}
	if !relaxed.Check(size) {
		t.Errorf("Relaxed() = %v does not admit the measured size", relaxed)
	}
	if relaxed.Value < 9.1 || relaxed.Value > 9.11 {
		t.Errorf("Relaxed().Value = %v, want about 9.1", relaxed.Value)
	}
}

func TestNewVideoProperties(t *testing.T) {
	tests := []struct {
		name         string
		fps          float64
		frames       int
		wantFPS      float64
		wantFrames   int
		wantWarnings int
	}{
		{"normal", 30, 300, 30, 300, 0},
		{"zero fps", 0, 300, DefaultFrameRate, 300, 1},
		{"absurd fps", 240, 300, DefaultFrameRate, 300, 1},
		{"missing frame count", 24, 0, 24, DefaultFrameCount, 1},
		{"both broken", -1, -5, DefaultFrameRate, DefaultFrameCount, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewVideoProperties(tt.fps, tt.frames, 640, 480, 4096)
			if p.FrameRate != tt.wantFPS {
				t.Errorf("FrameRate = %v, want %v", p.FrameRate, tt.wantFPS)
			}
			if p.FrameCount != tt.wantFrames {
				t.Errorf("FrameCount = %v, want %v", p.FrameCount, tt.wantFrames)
			}
			if len(p.Warnings) != tt.wantWarnings {
				t.Errorf("Warnings = %v, want %d", p.Warnings, tt.wantWarnings)
			}
			if want := float64(p.FrameCount) / p.FrameRate; p.DurationSeconds != want {
				t.Errorf("DurationSeconds = %v, want %v", p.DurationSeconds, want)
			}
		})
	}
}

func TestConversionParams_Clamp(t *testing.T) {
	props := NewVideoProperties(30, 300, 640, 480, 4096)

	tests := []struct {
		name string
		in   ConversionParams
		want ConversionParams
	}{
		{"in range", ConversionParams{10, 85, 320, 240, true}, ConversionParams{10, 85, 320, 240, true}},
		{"fps too high", ConversionParams{60, 85, 320, 240, false}, ConversionParams{30, 85, 320, 240, false}},
		{"quality too low", ConversionParams{10, 10, 320, 240, true}, ConversionParams{10, 50, 320, 240, true}},
		{"zero dimensions use source", ConversionParams{10, 85, 0, 0, true}, ConversionParams{10, 85, 640, 480, true}},
		{"upscale bounded by twice source", ConversionParams{10, 85, 5000, 5000, true}, ConversionParams{10, 85, 1280, 960, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp(props)
			if got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(props); err != nil {
				t.Errorf("Validate() after Clamp() = %v", err)
			}
		})
	}
}

func TestConversionParams_Fingerprint(t *testing.T) {
	a := ConversionParams{FPS: 10, Quality: 85, Width: 640, Height: 480, Optimize: true}
	b := a
	b.Optimize = false

	if a.Fingerprint() != "640x480_10fps_85q" {
		t.Errorf("Fingerprint() = %q", a.Fingerprint())
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("optimize flag must not change the fingerprint")
	}
}

func TestStageError(t *testing.T) {
	err := NewStageError(StageProbe, ErrProbeFailed, "file is %d bytes", 500)

	if !errors.Is(err, ErrProbeFailed) {
		t.Error("StageError should unwrap to its sentinel")
	}

	var stageErr *StageError
	if !errors.As(error(err), &stageErr) || stageErr.Stage != StageProbe {
		t.Errorf("errors.As() did not recover the stage: %v", err)
	}
}

func TestConversionJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     ConversionJob
		wantErr error
	}{
		{"valid", ConversionJob{JobID: "j", S3Key: "k", Bucket: "b"}, nil},
		{"missing id", ConversionJob{S3Key: "k", Bucket: "b"}, ErrMissingJobID},
		{"missing key", ConversionJob{JobID: "j", Bucket: "b"}, ErrMissingS3Key},
		{"missing bucket", ConversionJob{JobID: "j", S3Key: "k"}, ErrMissingBucket},
		{"bad constraint", ConversionJob{JobID: "j", S3Key: "k", Bucket: "b",
			Constraint: SizeConstraint{Operator: "<", Value: 0, Unit: "MB", Enabled: true}}, ErrInvalidConstraint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
