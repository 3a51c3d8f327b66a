package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operator compares an output size against a target.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "="
)

// EqualTolerance is the relative tolerance of the "=" operator.
const EqualTolerance = 0.1

// IsValid returns true if the operator is one of the supported comparisons.
func (o Operator) IsValid() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

// unitMultipliers maps size units to bytes.
var unitMultipliers = map[string]float64{
	"B":  1,
	"KB": 1024,
	"MB": 1024 * 1024,
	"GB": 1024 * 1024 * 1024,
}

// ValidUnit reports whether unit is one of B, KB, MB, GB.
func ValidUnit(unit string) bool {
	_, ok := unitMultipliers[unit]
	return ok
}

// SizeConstraint is a parsed output-size requirement.
type SizeConstraint struct {
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
	Unit     string   `json:"unit"`
	Enabled  bool     `json:"enabled"`
}

// DefaultConstraint is "< 5 MB", disabled.
func DefaultConstraint() SizeConstraint {
	return SizeConstraint{Operator: OpLess, Value: 5, Unit: "MB"}
}

// ParseSizeConstraint validates the raw fields. Unit matching is case-insensitive.
func ParseSizeConstraint(op string, value float64, unit string, enabled bool) (SizeConstraint, error) {
	c := SizeConstraint{
		Operator: Operator(strings.TrimSpace(op)),
		Value:    value,
		Unit:     strings.ToUpper(strings.TrimSpace(unit)),
		Enabled:  enabled,
	}
	if err := c.Validate(); err != nil {
		return SizeConstraint{}, err
	}
	return c, nil
}

// ParseSizeConstraintString parses the text form, e.g. "< 5MB" or "<=800 KB".
// The result is enabled.
func ParseSizeConstraintString(s string) (SizeConstraint, error) {
	s = strings.TrimSpace(s)

	var op string
	for _, candidate := range []string{"<=", ">=", "<", ">", "="} {
		if strings.HasPrefix(s, candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return SizeConstraint{}, fmt.Errorf("%w: missing operator in %q", ErrInvalidConstraint, s)
	}

	rest := strings.TrimSpace(s[len(op):])
	i := strings.IndexFunc(rest, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if i <= 0 {
		return SizeConstraint{}, fmt.Errorf("%w: missing value or unit in %q", ErrInvalidConstraint, s)
	}

	value, err := strconv.ParseFloat(rest[:i], 64)
	if err != nil {
		return SizeConstraint{}, fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
	}
	return ParseSizeConstraint(op, value, rest[i:], true)
}

// Validate checks operator, unit and value.
func (c SizeConstraint) Validate() error {
	if !c.Operator.IsValid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidConstraint, c.Operator)
	}
	if !ValidUnit(c.Unit) {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidConstraint, c.Unit)
	}
	if !(c.Value > 0) || math.IsInf(c.Value, 0) {
		return fmt.Errorf("%w: value must be positive, got %v", ErrInvalidConstraint, c.Value)
	}
	return nil
}

// TargetBytes returns Value x unit multiplier.
func (c SizeConstraint) TargetBytes() int64 {
	return int64(c.Value * unitMultipliers[c.Unit])
}

// Check reports whether sizeBytes satisfies the constraint. Disabled
// constraints are always satisfied.
func (c SizeConstraint) Check(sizeBytes int64) bool {
	if !c.Enabled {
		return true
	}

	target := c.TargetBytes()
	switch c.Operator {
	case OpLess:
		return sizeBytes < target
	case OpLessEqual:
		return sizeBytes <= target
	case OpGreater:
		return sizeBytes > target
	case OpGreaterEqual:
		return sizeBytes >= target
	case OpEqual:
		if target <= 0 {
			return false
		}
		return math.Abs(float64(sizeBytes-target))/float64(target) <= EqualTolerance
	}
	return false
}

// Degradable is true when a violation can be fixed by shrinking the output.
func (c SizeConstraint) Degradable() bool {
	return c.Enabled && (c.Operator == OpLess || c.Operator == OpLessEqual)
}

// Relaxed returns a constraint in the same unit whose target is
// sizeBytes x factor, rounded up to two decimals.
func (c SizeConstraint) Relaxed(sizeBytes int64, factor float64) SizeConstraint {
	mult := unitMultipliers[c.Unit]
	if mult == 0 {
		mult = unitMultipliers["MB"]
		c.Unit = "MB"
	}
	c.Value = math.Ceil(float64(sizeBytes)*factor/mult*100) / 100
	return c
}

func (c SizeConstraint) String() string {
	return fmt.Sprintf("%s %s %s", c.Operator, strconv.FormatFloat(c.Value, 'f', -1, 64), c.Unit)
}

// FormatBytes renders a byte count in the largest fitting unit.
func FormatBytes(n int64) string {
	f := float64(n)
	switch {
	case f >= unitMultipliers["GB"]:
		return fmt.Sprintf("%.2f GB", f/unitMultipliers["GB"])
	case f >= unitMultipliers["MB"]:
		return fmt.Sprintf("%.2f MB", f/unitMultipliers["MB"])
	case f >= unitMultipliers["KB"]:
		return fmt.Sprintf("%.1f KB", f/unitMultipliers["KB"])
	}
	return fmt.Sprintf("%d B", n)
}
