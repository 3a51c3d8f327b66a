package suggest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var (
	errNoArray      = errors.New("reply contains no JSON array")
	errMissingField = errors.New("missing field")
)

// Wire shapes of a suggestion reply. Pointers distinguish absent fields
// from zero values.
type rawSuggestion struct {
	Name           *string        `json:"name"`
	Description    *string        `json:"description"`
	Params         *rawParams     `json:"params"`
	SizeConstraint *rawConstraint `json:"size_constraint"`
}

type rawParams struct {
	FPS      *float64 `json:"fps"`
	Quality  *float64 `json:"quality"`
	Width    *float64 `json:"width"`
	Height   *float64 `json:"height"`
	Optimize *bool    `json:"optimize"`
}

type rawConstraint struct {
	Operator *string  `json:"operator"`
	Value    *float64 `json:"value"`
	Unit     *string  `json:"unit"`
	Enabled  *bool    `json:"enabled"`
}

// Parse extracts suggestions from a completion reply. Elements that fail
// validation are dropped and reported in the second return value.
func Parse(reply string, props models.VideoProperties) ([]models.Suggestion, []error) {
	start := strings.IndexByte(reply, '[')
	end := strings.LastIndexByte(reply, ']')
	if start < 0 || end <= start {
		return nil, []error{errNoArray}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(reply[start:end+1]), &elems); err != nil {
		return nil, []error{fmt.Errorf("decode array: %w", err)}
	}

	var (
		out  []models.Suggestion
		errs []error
	)
	for i, elem := range elems {
		s, err := parseElement(elem, props)
		if err != nil {
			errs = append(errs, fmt.Errorf("suggestion %d: %w", i, err))
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

func parseElement(elem json.RawMessage, props models.VideoProperties) (models.Suggestion, error) {
	dec := json.NewDecoder(bytes.NewReader(elem))
	dec.DisallowUnknownFields()

	var raw rawSuggestion
	if err := dec.Decode(&raw); err != nil {
		return models.Suggestion{}, err
	}

	switch {
	case raw.Name == nil || strings.TrimSpace(*raw.Name) == "":
		return models.Suggestion{}, fmt.Errorf("%w: name", errMissingField)
	case raw.Description == nil:
		return models.Suggestion{}, fmt.Errorf("%w: description", errMissingField)
	case raw.Params == nil:
		return models.Suggestion{}, fmt.Errorf("%w: params", errMissingField)
	case raw.SizeConstraint == nil:
		return models.Suggestion{}, fmt.Errorf("%w: size_constraint", errMissingField)
	}

	params, err := raw.Params.toParams(props)
	if err != nil {
		return models.Suggestion{}, err
	}
	constraint, err := raw.SizeConstraint.toConstraint()
	if err != nil {
		return models.Suggestion{}, err
	}

	return models.Suggestion{
		Name:        strings.TrimSpace(*raw.Name),
		Description: strings.TrimSpace(*raw.Description),
		Params:      params,
		Constraint:  constraint,
		Source:      models.SourceLLM,
	}, nil
}

func (r *rawParams) toParams(props models.VideoProperties) (models.ConversionParams, error) {
	if r.FPS == nil || r.Quality == nil || r.Width == nil || r.Height == nil || r.Optimize == nil {
		return models.ConversionParams{}, fmt.Errorf("%w: params require fps, quality, width, height, optimize", errMissingField)
	}

	fps, err := integral("fps", *r.FPS, models.MinFPS, models.MaxFPS)
	if err != nil {
		return models.ConversionParams{}, err
	}
	quality, err := integral("quality", *r.Quality, models.MinQuality, models.MaxQuality)
	if err != nil {
		return models.ConversionParams{}, err
	}
	width, err := integral("width", *r.Width, models.MinDimension, 2*props.Width)
	if err != nil {
		return models.ConversionParams{}, err
	}
	height, err := integral("height", *r.Height, models.MinDimension, 2*props.Height)
	if err != nil {
		return models.ConversionParams{}, err
	}

	p := models.ConversionParams{FPS: fps, Quality: quality, Width: width, Height: height, Optimize: *r.Optimize}
	if err := p.Validate(props); err != nil {
		return models.ConversionParams{}, err
	}
	return p, nil
}

func (r *rawConstraint) toConstraint() (models.SizeConstraint, error) {
	if r.Operator == nil || r.Value == nil || r.Unit == nil || r.Enabled == nil {
		return models.SizeConstraint{}, fmt.Errorf("%w: size_constraint requires operator, value, unit, enabled", errMissingField)
	}
	return models.ParseSizeConstraint(*r.Operator, *r.Value, *r.Unit, *r.Enabled)
}

func integral(name string, v float64, lo, hi int) (int, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %v is not an integer", models.ErrInvalidParams, name, v)
	}
	if v < float64(lo) || v > float64(hi) {
		return 0, fmt.Errorf("%w: %s %v not in [%d,%d]", models.ErrInvalidParams, name, v, lo, hi)
	}
	return int(v), nil
}
