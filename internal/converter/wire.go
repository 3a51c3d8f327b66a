package converter

import (
	"log/slog"

	"github.com/amillerrr/gif-pipeline/internal/config"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/media"
	"github.com/amillerrr/gif-pipeline/internal/retry"
	"github.com/amillerrr/gif-pipeline/internal/suggest"
)

// FromConfig builds a Converter backed by the ffmpeg binaries and, when an
// API key is configured, the language model.
func FromConfig(cfg *config.Config, log *slog.Logger) *Converter {
	log = logger.OrDefault(log)
	decoder := media.NewFFmpegDecoder(cfg.Engine.FFmpegPath, log)
	prober := media.NewProber(&media.ProberConfig{
		Metadata: media.NewFFprobe(cfg.Engine.FFprobePath),
		Decoder:  decoder,
		Logger:   log,
	})

	c := Config{
		Prober:  prober,
		Decoder: decoder,
		RetryPolicy: retry.Policy{
			MaxAttempts:    cfg.LLM.MaxAttempts,
			Backoff:        cfg.LLM.Backoff,
			AttemptTimeout: cfg.LLM.Timeout,
		},
		MaxFrames:       cfg.Engine.MaxFrames,
		EstimateFrames:  cfg.Engine.EstimateFrames,
		MaxIterations:   cfg.Engine.MaxSolverIterations,
		OptimizerPasses: cfg.Engine.OptimizerPasses,
		Logger:          log,
	}
	if cfg.LLM.Enabled() {
		c.Completer = suggest.NewOpenAICompleter(cfg.LLM)
	} else {
		log.Info("LLM_API_KEY not set, suggestions use the built-in templates")
	}
	return New(c)
}
