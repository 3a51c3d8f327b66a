package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	LogLevel      string
	AWS           AWSConfig
	API           APIConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
	Engine        EngineConfig
	LLM           LLMConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region        string
	SourceBucket  string
	GIFBucket     string
	SQSQueueURL   string
	DynamoDBTable string
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Port           string
	Username       string
	Password       string
	JWTSecret      string
	TokenTTL       time.Duration
	MaxUploadBytes int64
}

// WorkerConfig holds worker-specific configuration.
type WorkerConfig struct {
	MaxConcurrentJobs int
	MetricsPort       int
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint   string
	TracingEnabled bool
	SampleRatio    float64
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// EngineConfig holds conversion engine configuration.
type EngineConfig struct {
	TempDir             string
	FFmpegPath          string
	FFprobePath         string
	MaxFrames           int
	EstimateFrames      int
	MaxSolverIterations int
	OptimizerPasses     int
	SessionTTL          time.Duration
}

// LLMConfig holds the suggestion service configuration.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Temperature float64
	MaxTokens   int
}

// Enabled reports whether an API key is configured.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// Default values
const (
	DefaultPort              = "8080"
	DefaultMetricsPort       = 2112
	DefaultMaxConcurrentJobs = 1
	DefaultOTLPEndpoint      = "localhost:4317"
	DefaultRegion            = "us-west-2"
	DefaultTokenTTL          = 24 * time.Hour
	DefaultMaxUploadBytes    = 500 << 20 // 500 MB

	DefaultTempDir             = "/tmp/gif-pipeline"
	DefaultMaxFrames           = 150
	DefaultEstimateFrames      = 30
	DefaultMaxSolverIterations = 6
	DefaultOptimizerPasses     = 4
	DefaultSessionTTL          = 2 * time.Hour

	DefaultLLMBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultLLMModel       = "qwen-plus"
	DefaultLLMTimeout     = 30 * time.Second
	DefaultLLMMaxAttempts = 3
	DefaultLLMBackoff     = time.Second
	DefaultLLMTemperature = 0.7
	DefaultLLMMaxTokens   = 1500
)

// Load reads configuration from environment variables and returns a Config.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AWS: AWSConfig{
			Region:        getEnv("AWS_REGION", DefaultRegion),
			SourceBucket:  os.Getenv("S3_BUCKET"),
			GIFBucket:     os.Getenv("GIF_BUCKET"),
			SQSQueueURL:   os.Getenv("SQS_QUEUE_URL"),
			DynamoDBTable: os.Getenv("DYNAMODB_TABLE"),
		},
		API: APIConfig{
			Port:           getEnv("PORT", DefaultPort),
			Username:       os.Getenv("API_USERNAME"),
			Password:       os.Getenv("API_PASSWORD"),
			JWTSecret:      os.Getenv("JWT_SECRET"),
			TokenTTL:       getEnvDuration("TOKEN_TTL", DefaultTokenTTL),
			MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		},
		Worker: WorkerConfig{
			MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", DefaultMaxConcurrentJobs),
			MetricsPort:       getEnvInt("METRICS_PORT", DefaultMetricsPort),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
			TracingEnabled: getEnvBool("TRACING_ENABLED", true),
			SampleRatio:    getEnvFloat("TRACE_SAMPLE_RATIO", 1.0),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
			}),
		},
		Engine: EngineConfig{
			TempDir:             getEnv("TEMP_DIR", DefaultTempDir),
			FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:         getEnv("FFPROBE_PATH", "ffprobe"),
			MaxFrames:           getEnvInt("MAX_FRAMES", DefaultMaxFrames),
			EstimateFrames:      getEnvInt("ESTIMATE_FRAMES", DefaultEstimateFrames),
			MaxSolverIterations: getEnvInt("MAX_SOLVER_ITERATIONS", DefaultMaxSolverIterations),
			OptimizerPasses:     getEnvInt("OPTIMIZER_PASSES", DefaultOptimizerPasses),
			SessionTTL:          getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		},
		LLM: LLMConfig{
			APIKey:      os.Getenv("LLM_API_KEY"),
			BaseURL:     getEnv("LLM_BASE_URL", DefaultLLMBaseURL),
			Model:       getEnv("LLM_MODEL", DefaultLLMModel),
			Timeout:     getEnvDuration("LLM_TIMEOUT", DefaultLLMTimeout),
			MaxAttempts: getEnvInt("LLM_MAX_ATTEMPTS", DefaultLLMMaxAttempts),
			Backoff:     getEnvDuration("LLM_BACKOFF", DefaultLLMBackoff),
			Temperature: getEnvFloat("LLM_TEMPERATURE", DefaultLLMTemperature),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", DefaultLLMMaxTokens),
		},
	}

	if err := cfg.ValidateEngine(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadAPI loads configuration required for the API service.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWorker loads configuration required for the Worker service.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateEngine validates the conversion engine bounds.
func (c *Config) ValidateEngine() error {
	var errs []string

	if c.Engine.MaxFrames < 2 {
		errs = append(errs, "MAX_FRAMES must be at least 2")
	}
	if c.Engine.EstimateFrames < 2 || c.Engine.EstimateFrames > c.Engine.MaxFrames {
		errs = append(errs, "ESTIMATE_FRAMES must be between 2 and MAX_FRAMES")
	}
	if c.LLM.MaxAttempts > 3 {
		errs = append(errs, "LLM_MAX_ATTEMPTS must not exceed 3")
	}
	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		errs = append(errs, "TRACE_SAMPLE_RATIO must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateAPI validates configuration required for the API service.
// The AWS resources are optional: without them the asynchronous job
// endpoints are disabled.
func (c *Config) ValidateAPI() error {
	var errs []string

	if c.AsyncJobsEnabled() && c.AWS.DynamoDBTable == "" {
		errs = append(errs, "DYNAMODB_TABLE is required when SQS_QUEUE_URL is set")
	}

	// In production, require explicit credentials
	if c.IsProduction() {
		if c.API.Username == "" {
			errs = append(errs, "API_USERNAME is required in production")
		}
		if c.API.Password == "" {
			errs = append(errs, "API_PASSWORD is required in production")
		}
		if c.API.JWTSecret == "" {
			errs = append(errs, "JWT_SECRET is required in production")
		}
		if len(c.API.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateWorker validates configuration required for the Worker service.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.AWS.SourceBucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.AWS.GIFBucket == "" {
		errs = append(errs, "GIF_BUCKET is required")
	}
	if c.AWS.SQSQueueURL == "" {
		errs = append(errs, "SQS_QUEUE_URL is required")
	}
	if c.AWS.DynamoDBTable == "" {
		errs = append(errs, "DYNAMODB_TABLE is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AsyncJobsEnabled reports whether the S3/SQS job flow is configured.
func (c *Config) AsyncJobsEnabled() bool {
	return c.AWS.SQSQueueURL != "" && c.AWS.SourceBucket != "" && c.AWS.GIFBucket != ""
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// GetAPICredentials returns API credentials with fallback for development.
func (c *Config) GetAPICredentials() (username, password string, err error) {
	username = c.API.Username
	password = c.API.Password

	if username == "" || password == "" {
		if c.IsProduction() {
			return "", "", errors.New("API credentials not configured")
		}
		// Development fallback
		return "admin", "secret", nil
	}

	return username, password, nil
}

// GetJWTSecret returns the JWT secret.
func (c *Config) GetJWTSecret() ([]byte, error) {
	secret := c.API.JWTSecret

	if secret == "" {
		if c.IsProduction() {
			return nil, errors.New("JWT_SECRET not configured")
		}
		return nil, errors.New("JWT_SECRET is required (set it even for development)")
	}

	if len(secret) < 32 && c.IsProduction() {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	return []byte(secret), nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
