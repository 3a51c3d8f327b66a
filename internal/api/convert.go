package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/gif-pipeline/internal/converter"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// Response headers describing a produced GIF.
const (
	HeaderGIFSize       = "X-Gif-Size"
	HeaderGIFBestEffort = "X-Gif-Best-Effort"
	HeaderGIFParams     = "X-Gif-Params"
	HeaderGIFConstraint = "X-Gif-Constraint"
	HeaderGIFWarnings   = "X-Gif-Warnings"
)

// UploadVideoResponse describes a loaded video.
type UploadVideoResponse struct {
	Properties    models.VideoProperties  `json:"properties"`
	DefaultParams models.ConversionParams `json:"defaultParams"`
}

// UploadVideoHandler stores a multipart "video" upload in the session and
// probes it.
func (h *Handlers) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := h.session(ctx, w, r)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "upload-video-handler",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.API.MaxUploadBytes)
	file, header, err := r.FormFile("video")
	if err != nil {
		span.RecordError(err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Video too large")
			return
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Missing video file")
		return
	}
	defer file.Close()

	path, err := sess.SaveVideo(header.Filename, file)
	if err != nil {
		span.RecordError(err)
		h.writeEngineError(ctx, w, err)
		return
	}

	props, err := h.engine.Load(ctx, sess, path)
	if err != nil {
		span.RecordError(err)
		if resetErr := sess.Reset(); resetErr != nil {
			logger.Warn(ctx, h.log, "Failed to discard rejected upload", "error", resetErr)
		}
		h.writeEngineError(ctx, w, err)
		return
	}

	span.SetAttributes(
		attribute.Int("video.width", props.Width),
		attribute.Int("video.height", props.Height),
		attribute.Int("video.frames", props.FrameCount),
	)
	logger.Info(ctx, h.log, "Video loaded",
		"sessionId", sess.ID,
		"filename", header.Filename,
		"resolution", fmt.Sprintf("%dx%d", props.Width, props.Height),
		"frames", props.FrameCount,
	)

	h.writeJSON(ctx, w, http.StatusOK, UploadVideoResponse{
		Properties:    props,
		DefaultParams: models.DefaultParams(props),
	})
}

// EstimateRequest asks for a size estimate.
type EstimateRequest struct {
	Params     *models.ConversionParams `json:"params,omitempty"`
	Constraint models.SizeConstraint    `json:"constraint"`
}

// EstimateHandler solves the constraint for the loaded video without
// encoding the full output.
func (h *Handlers) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := h.session(ctx, w, r)
	if !ok {
		return
	}

	var req EstimateRequest
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}
	constraint, err := normalizeConstraint(req.Constraint)
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	req.Constraint = constraint

	ctx, span := tracer.Start(ctx, "estimate-handler")
	defer span.End()

	out, err := h.engine.Estimate(ctx, sess, req.Params, req.Constraint)
	if err != nil {
		span.RecordError(err)
		h.writeEngineError(ctx, w, err)
		return
	}

	span.SetAttributes(
		attribute.String("solver.state", string(out.State)),
		attribute.Int64("estimate.bytes", out.Estimate.Bytes),
	)
	h.writeJSON(ctx, w, http.StatusOK, out)
}

// SuggestionsRequest carries the user's free-text hint.
type SuggestionsRequest struct {
	Hint string `json:"hint"`
}

// SuggestionsHandler returns vetted suggestions for the loaded video.
func (h *Handlers) SuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := h.session(ctx, w, r)
	if !ok {
		return
	}

	var req SuggestionsRequest
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}

	ctx, span := tracer.Start(ctx, "suggestions-handler")
	defer span.End()

	suggestions, err := h.engine.Suggest(ctx, sess, req.Hint)
	if err != nil {
		span.RecordError(err)
		h.writeEngineError(ctx, w, err)
		return
	}

	span.SetAttributes(attribute.Int("suggestions.count", len(suggestions)))
	h.writeJSON(ctx, w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// ConvertResponse is the JSON form of a conversion, chosen with
// "Accept: application/json".
type ConvertResponse struct {
	*converter.Result
	GIF []byte `json:"gif"`
}

// ConvertHandler converts the loaded video and returns the GIF.
func (h *Handlers) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := h.session(ctx, w, r)
	if !ok {
		return
	}

	var req converter.Request
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}
	constraint, err := normalizeConstraint(req.Constraint)
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	req.Constraint = constraint

	ctx, span := tracer.Start(ctx, "convert-handler",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	res, err := h.engine.Convert(ctx, sess, req)
	if err != nil {
		span.RecordError(err)
		h.writeEngineError(ctx, w, err)
		return
	}

	span.SetAttributes(
		attribute.Int64("gif.size_bytes", res.SizeBytes),
		attribute.Bool("gif.best_effort", res.BestEffort),
	)

	if wantsJSON(r) {
		h.writeJSON(ctx, w, http.StatusOK, ConvertResponse{Result: res, GIF: res.Data})
		return
	}

	hdr := w.Header()
	hdr.Set(HeaderGIFParams, res.Params.String())
	hdr.Set(HeaderGIFConstraint, res.ReportedConstraint.String())
	hdr.Set(HeaderGIFWarnings, strconv.Itoa(len(res.Warnings)))
	h.writeGIF(ctx, w, res.Data, res.BestEffort)
}

// OptimizeGIFHandler shrinks an uploaded "gif" towards the constraint in
// the operator, value and unit form fields.
func (h *Handlers) OptimizeGIFHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.API.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "GIF too large")
			return
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	constraint, err := formConstraint(r)
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("gif")
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Missing gif file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Failed to read gif")
		return
	}

	ctx, span := tracer.Start(ctx, "optimize-gif-handler",
		trace.WithAttributes(attribute.Int("gif.input_bytes", len(data))))
	defer span.End()

	fit, err := h.engine.OptimizeGIF(ctx, data, constraint)
	if err != nil {
		span.RecordError(err)
		h.writeEngineError(ctx, w, err)
		return
	}

	hdr := w.Header()
	hdr.Set(HeaderGIFParams, fit.Params.String())
	hdr.Set(HeaderGIFConstraint, constraint.String())
	hdr.Set("X-Gif-Passes", strconv.Itoa(fit.Passes))
	h.writeGIF(ctx, w, fit.Data, !fit.Satisfied)
}

func (h *Handlers) writeGIF(ctx context.Context, w http.ResponseWriter, data []byte, bestEffort bool) {
	hdr := w.Header()
	hdr.Set("Content-Type", "image/gif")
	hdr.Set("Content-Length", strconv.Itoa(len(data)))
	hdr.Set(HeaderGIFSize, strconv.Itoa(len(data)))
	hdr.Set(HeaderGIFBestEffort, strconv.FormatBool(bestEffort))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.Warn(ctx, h.log, "Failed to write gif", "error", err)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// normalizeConstraint validates an enabled constraint from a JSON body and
// returns it with the operator trimmed and the unit upper-cased.
func normalizeConstraint(c models.SizeConstraint) (models.SizeConstraint, error) {
	if !c.Enabled {
		return c, nil
	}
	return models.ParseSizeConstraint(string(c.Operator), c.Value, c.Unit, true)
}

// formConstraint reads an enabled constraint from the operator, value and
// unit form fields.
func formConstraint(r *http.Request) (models.SizeConstraint, error) {
	value, err := strconv.ParseFloat(r.FormValue("value"), 64)
	if err != nil {
		return models.SizeConstraint{}, fmt.Errorf("%w: value must be a number", models.ErrInvalidConstraint)
	}
	return models.ParseSizeConstraint(r.FormValue("operator"), value, r.FormValue("unit"), true)
}
