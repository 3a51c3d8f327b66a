// Package suggest proposes starting conversion parameters, either from a
// language model or from built-in templates when the model is unavailable.
package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/internal/retry"
	"github.com/amillerrr/gif-pipeline/internal/solver"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var tracer = otel.Tracer("gif-suggest")

const (
	MaxSuggestions = 4

	// Relaxation applied to suggestions the solver could not satisfy.
	FallbackRelaxFactor = 1.2
	LLMRelaxFactor      = 1.3
)

// Solver is the part of the constraint solver used to vet suggestions.
type Solver interface {
	Solve(ctx context.Context, props models.VideoProperties, params models.ConversionParams, constraint models.SizeConstraint, sourcePath string) solver.Outcome
}

// Cache holds suggestion batches for one session.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]models.Suggestion
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string][]models.Suggestion)}
}

// CacheKey is the source fingerprint plus a short hash of the hint.
func CacheKey(props models.VideoProperties, hint string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(hint)))
	return props.Fingerprint() + "_" + hex.EncodeToString(sum[:])[:8]
}

func (c *Cache) get(key string) ([]models.Suggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	return slices.Clone(s), ok
}

func (c *Cache) put(key string, s []models.Suggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = slices.Clone(s)
}

// Len returns the number of cached batches.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops every cached batch.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]models.Suggestion)
}

// GeneratorConfig configures a Generator. Completer may be nil, in which
// case only the fallback templates are served.
type GeneratorConfig struct {
	Completer  Completer
	Solver     Solver
	Estimator  solver.SizeEstimator
	Cache      *Cache
	Policy     retry.Policy
	SourcePath string
	Logger     *slog.Logger
}

// Generator produces suggestions for a probed source.
type Generator struct {
	completer  Completer
	solver     Solver
	estimator  solver.SizeEstimator
	cache      *Cache
	policy     retry.Policy
	sourcePath string
	log        *slog.Logger
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Cache == nil {
		cfg.Cache = NewCache()
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	return &Generator{
		completer:  cfg.Completer,
		solver:     cfg.Solver,
		estimator:  cfg.Estimator,
		cache:      cfg.Cache,
		policy:     cfg.Policy,
		sourcePath: cfg.SourcePath,
		log:        logger.OrDefault(cfg.Logger),
	}
}

// Suggest returns up to MaxSuggestions vetted suggestions. It never fails:
// any problem with the model yields the fallback templates.
func (g *Generator) Suggest(ctx context.Context, props models.VideoProperties, hint string) []models.Suggestion {
	ctx, span := tracer.Start(ctx, "suggest")
	defer span.End()

	key := CacheKey(props, hint)
	if cached, ok := g.cache.get(key); ok {
		metrics.Suggestions.WithLabelValues("cache").Inc()
		span.SetAttributes(attribute.String("suggest.source", "cache"))
		return cached
	}

	suggestions, source := g.fromModel(ctx, props, hint)
	factor := LLMRelaxFactor
	if len(suggestions) == 0 {
		suggestions, source = Fallback(props), models.SourceFallback
		factor = FallbackRelaxFactor
	}

	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	for i := range suggestions {
		suggestions[i] = g.vet(ctx, props, suggestions[i], factor)
	}

	g.cache.put(key, suggestions)
	metrics.Suggestions.WithLabelValues(string(source)).Inc()
	span.SetAttributes(
		attribute.String("suggest.source", string(source)),
		attribute.Int("suggest.count", len(suggestions)),
	)
	logger.Info(ctx, g.log, "Suggestions generated",
		"source", source,
		"count", len(suggestions),
	)
	return suggestions
}

// fromModel asks the completer for suggestions. An empty result means the
// caller should fall back.
func (g *Generator) fromModel(ctx context.Context, props models.VideoProperties, hint string) ([]models.Suggestion, models.SuggestionSource) {
	if g.completer == nil {
		logger.Debug(ctx, g.log, models.ErrSuggestionUnavailable.Error(), "reason", "no completer configured")
		return nil, models.SourceFallback
	}

	system, user := buildPrompt(props, hint)
	reply, err := retry.Do(ctx, g.policy, func(ctx context.Context) (string, error) {
		return g.completer.Complete(ctx, system, user)
	})
	if err != nil {
		logger.Warn(ctx, g.log, models.ErrSuggestionUnavailable.Error(), "error", err)
		return nil, models.SourceFallback
	}

	parsed, rejected := Parse(reply, props)
	if len(rejected) > 0 {
		logger.Warn(ctx, g.log, "Discarded invalid suggestions",
			"rejected", len(rejected),
			"accepted", len(parsed),
			"error", errors.Join(rejected...),
		)
	}
	return parsed, models.SourceLLM
}

// vet runs the suggestion through the solver once, adopting its params. An
// upper bound that cannot be met is relaxed to what the estimate reaches;
// any other unmet constraint is kept and marked as unmet.
func (g *Generator) vet(ctx context.Context, props models.VideoProperties, s models.Suggestion, factor float64) models.Suggestion {
	s.Params = s.Params.Clamp(props)

	if !s.Constraint.Enabled || g.solver == nil {
		if g.estimator != nil {
			s.EstimatedSizeBytes = g.estimator.Estimate(ctx, props, s.Params, g.sourcePath).Bytes
		}
		return s
	}

	out := g.solver.Solve(ctx, props, s.Params, s.Constraint, g.sourcePath)
	s.Params = out.Params
	s.EstimatedSizeBytes = out.Estimate.Bytes

	switch {
	case !out.BestEffort():
	case s.Constraint.Degradable():
		s.Constraint = s.Constraint.Relaxed(out.Estimate.Bytes, factor)
		s.Description = fmt.Sprintf("%s (estimated %s, target relaxed to %s)",
			s.Description, models.FormatBytes(out.Estimate.Bytes), s.Constraint)
	default:
		// Growing the output is not something the solver does, so a lower
		// bound stays as asked and is flagged.
		s.Description = fmt.Sprintf("%s (estimated %s, target %s not met)",
			s.Description, models.FormatBytes(out.Estimate.Bytes), s.Constraint)
	}
	return s
}

// Ping checks that the completion endpoint answers, with a single attempt.
func (g *Generator) Ping(ctx context.Context) error {
	if g.completer == nil {
		return models.ErrSuggestionUnavailable
	}

	p := g.policy
	p.MaxAttempts = 1
	_, err := retry.Do(ctx, p, func(ctx context.Context) (string, error) {
		return g.completer.Complete(ctx, "Reply with the single word OK.", "ping")
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSuggestionUnavailable, err)
	}
	return nil
}
