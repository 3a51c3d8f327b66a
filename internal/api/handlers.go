package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel"

	"github.com/amillerrr/gif-pipeline/internal/auth"
	"github.com/amillerrr/gif-pipeline/internal/config"
	"github.com/amillerrr/gif-pipeline/internal/converter"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/internal/session"
	"github.com/amillerrr/gif-pipeline/internal/solver"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var tracer = otel.Tracer("gif-api")

// Configuration constants
const (
	PresignedURLExpiration = 10 * time.Minute
	MaxRequestBodySize     = 1 << 20 // 1 MB
	multipartMemory        = 32 << 20
)

// Engine is the conversion engine behind the session endpoints.
type Engine interface {
	Load(ctx context.Context, sess *session.Session, path string) (models.VideoProperties, error)
	Estimate(ctx context.Context, sess *session.Session, params *models.ConversionParams, constraint models.SizeConstraint) (solver.Outcome, error)
	Suggest(ctx context.Context, sess *session.Session, hint string) ([]models.Suggestion, error)
	Convert(ctx context.Context, sess *session.Session, req converter.Request) (*converter.Result, error)
	OptimizeGIF(ctx context.Context, data []byte, constraint models.SizeConstraint) (*solver.FitResult, error)
}

// ObjectStorage presigns job uploads and downloads.
type ObjectStorage interface {
	PresignUpload(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error)
	PresignDownload(ctx context.Context, bucket, key string, lifetime time.Duration) (string, error)
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)
}

// JobRepository stores asynchronous job records.
type JobRepository interface {
	CreateJob(ctx context.Context, job models.ConversionJob, sourceSizeBytes int64) (*models.JobRecord, error)
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, limit int32, startKey map[string]types.AttributeValue) ([]models.JobRecord, map[string]types.AttributeValue, error)
}

// JobQueue accepts conversion jobs.
type JobQueue interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg         *config.Config
	log         *slog.Logger
	engine      Engine
	sessions    *session.Store
	jwtService  *auth.JWTService
	rateLimiter *auth.RateLimiter
	objects     ObjectStorage
	jobs        JobRepository
	queue       JobQueue
}

// HandlersConfig holds dependencies for handlers. Objects, Jobs and Queue
// are optional; without all three the job endpoints answer 503.
type HandlersConfig struct {
	Config      *config.Config
	Logger      *slog.Logger
	Engine      Engine
	Sessions    *session.Store
	JWTService  *auth.JWTService
	RateLimiter *auth.RateLimiter
	Objects     ObjectStorage
	Jobs        JobRepository
	Queue       JobQueue
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:         cfg.Config,
		log:         logger.OrDefault(cfg.Logger),
		engine:      cfg.Engine,
		sessions:    cfg.Sessions,
		jwtService:  cfg.JWTService,
		rateLimiter: cfg.RateLimiter,
		objects:     cfg.Objects,
		jobs:        cfg.Jobs,
		queue:       cfg.Queue,
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(ctx, h.log, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

// writeEngineError maps a pipeline error onto an HTTP status.
func (h *Handlers) writeEngineError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, h.log, "Request failed", "error", err)
		h.writeError(ctx, w, status, "Conversion failed")
		return
	}
	h.writeError(ctx, w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidParams),
		errors.Is(err, models.ErrInvalidConstraint),
		errors.Is(err, models.ErrInvalidFileType),
		errors.Is(err, models.ErrFilenameTooLong),
		errors.Is(err, models.ErrInvalidContentType),
		errors.Is(err, models.ErrInvalidKeyFormat):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoVideo),
		errors.Is(err, models.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSessionReset):
		return http.StatusConflict
	case errors.Is(err, models.ErrProbeFailed),
		errors.Is(err, models.ErrSampleFailed),
		errors.Is(err, models.ErrInsufficientFrames):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a size-limited JSON body into v and reports failures.
func (h *Handlers) decodeJSON(ctx context.Context, w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// session returns the caller's session, answering 401 when it has expired.
func (h *Handlers) session(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok || claims.SessionID == "" {
		h.writeError(ctx, w, http.StatusUnauthorized, "Token is not bound to a session")
		return nil, false
	}
	sess, ok := h.sessions.Get(claims.SessionID)
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Session expired, log in again")
		return nil, false
	}
	return sess, true
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// LoginHandler checks basic auth credentials, opens a session and returns
// a token bound to it.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	clientIP := auth.GetClientIP(r)
	if h.rateLimiter != nil && h.rateLimiter.IsLimited(clientIP) {
		metrics.AuthFailures.WithLabelValues("rate_limited").Inc()
		h.rateLimiter.SetRetryAfter(w, clientIP)
		h.writeError(ctx, w, http.StatusTooManyRequests, "Too many failed attempts")
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		metrics.AuthFailures.WithLabelValues("missing_credentials").Inc()
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	expectedUsername, expectedPassword, err := h.cfg.GetAPICredentials()
	if err != nil {
		logger.Error(ctx, h.log, "Failed to get API credentials", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if username != expectedUsername || password != expectedPassword {
		metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		if h.rateLimiter != nil {
			h.rateLimiter.RecordFailure(clientIP)
		}
		logger.Warn(ctx, h.log, "Failed login attempt", "username", username, "ip", clientIP)
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	sess, err := h.sessions.Create()
	if err != nil {
		logger.Error(ctx, h.log, "Failed to create session", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	token, err := h.jwtService.GenerateSessionToken(username, sess.ID)
	if err != nil {
		h.sessions.Delete(sess.ID)
		logger.Error(ctx, h.log, "Failed to generate token", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	if h.rateLimiter != nil {
		h.rateLimiter.Reset(clientIP)
	}
	logger.Info(ctx, h.log, "Successful login", "username", username, "ip", clientIP, "sessionId", sess.ID)
	h.writeJSON(ctx, w, http.StatusOK, LoginResponse{Token: token, SessionID: sess.ID})
}

// SessionResponse describes the caller's session.
type SessionResponse struct {
	SessionID  string                  `json:"sessionId"`
	Video      *models.VideoProperties `json:"video,omitempty"`
	Generation int                     `json:"generation"`
}

// SessionHandler returns the caller's session state.
func (h *Handlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := h.session(ctx, w, r)
	if !ok {
		return
	}

	resp := SessionResponse{SessionID: sess.ID, Generation: sess.Generation()}
	if _, props, err := sess.Video(); err == nil {
		resp.Video = &props
	}
	h.writeJSON(ctx, w, http.StatusOK, resp)
}

// ResetSessionHandler discards the loaded video, temp files and caches.
func (h *Handlers) ResetSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := h.session(ctx, w, r)
	if !ok {
		return
	}

	if err := sess.Reset(); err != nil {
		logger.Warn(ctx, h.log, "Session reset left files behind", "sessionId", sess.ID, "error", err)
	}
	logger.Info(ctx, h.log, "Session reset", "sessionId", sess.ID)
	h.writeJSON(ctx, w, http.StatusOK, SessionResponse{SessionID: sess.ID, Generation: sess.Generation()})
}
