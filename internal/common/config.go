package common

import (
	"os"
	"strconv"
	"time"

	"github.com/finreports/stmtsplit/constants"
)

// Config holds all application configuration. It is assembled once at
// startup and never mutated afterwards.
type Config struct {
	LLM        LLMConfig
	Detect     DetectConfig
	RateLimit  RateLimitConfig
	Backoff    BackoffConfig
	Pipeline   PipelineConfig
	Validation ValidationConfig
	Output     OutputConfig
}

// LLMConfig holds language-model service configuration.
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
}

// DetectConfig holds boundary-detection knobs.
type DetectConfig struct {
	WindowSize        int     // pages per analysis window
	WindowOverlap     int     // pages shared between consecutive windows
	FragmentThreshold float64 // confidence below this marks a fragment
	MinSpanTextLen    int     // minimum chars for a confident span
	PatternsFile      string  // optional YAML override for header patterns
}

// RateLimitConfig holds token-bucket admission settings shared by all
// pipeline instances in a batch.
type RateLimitConfig struct {
	Capacity       float64
	RefillRate     float64 // tokens per second
	AcquireTimeout time.Duration
}

// BackoffConfig holds retry delay settings for the resilient invoker.
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// PipelineConfig holds document-level orchestration settings.
type PipelineConfig struct {
	MaxRetryAttempts      int // per-stage, independent of invoker retries
	Workers               int
	QueueSize             int
	ProcessTimeout        time.Duration
	PreserveFailedOutputs bool
}

// ValidationConfig holds output validation settings.
type ValidationConfig struct {
	Strictness    constants.Strictness
	SizeTolerance float64 // fraction of expected size, widened per skipped fragment
}

// OutputConfig holds filesystem layout settings.
type OutputConfig struct {
	OutputDir     string
	WorkDir       string
	QuarantineDir string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
		},
		Detect: DetectConfig{
			WindowSize:        getEnvAsInt("DETECT_WINDOW_SIZE", 6),
			WindowOverlap:     getEnvAsInt("DETECT_WINDOW_OVERLAP", 2),
			FragmentThreshold: getEnvAsFloat64("DETECT_FRAGMENT_THRESHOLD", 0.3),
			MinSpanTextLen:    getEnvAsInt("DETECT_MIN_SPAN_TEXT_LEN", 200),
			PatternsFile:      getEnv("DETECT_PATTERNS_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			Capacity:       getEnvAsFloat64("RATE_CAPACITY", 5),
			RefillRate:     getEnvAsFloat64("RATE_REFILL_PER_SEC", 1),
			AcquireTimeout: getEnvAsDuration("RATE_ACQUIRE_TIMEOUT", 2*time.Minute),
		},
		Backoff: BackoffConfig{
			BaseDelay:   getEnvAsDuration("BACKOFF_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    getEnvAsDuration("BACKOFF_MAX_DELAY", 30*time.Second),
			MaxAttempts: getEnvAsInt("BACKOFF_MAX_ATTEMPTS", 4),
		},
		Pipeline: PipelineConfig{
			MaxRetryAttempts:      getEnvAsInt("PIPELINE_MAX_RETRY_ATTEMPTS", 2),
			Workers:               getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:             getEnvAsInt("PIPELINE_QUEUE_SIZE", 64),
			ProcessTimeout:        getEnvAsDuration("PIPELINE_PROCESS_TIMEOUT", 10*time.Minute),
			PreserveFailedOutputs: getEnvAsBool("PRESERVE_FAILED_OUTPUTS", false),
		},
		Validation: ValidationConfig{
			Strictness:    constants.ParseStrictness(getEnv("VALIDATION_STRICTNESS", "normal")),
			SizeTolerance: getEnvAsFloat64("VALIDATION_SIZE_TOLERANCE", 0.25),
		},
		Output: OutputConfig{
			OutputDir:     getEnv("OUTPUT_DIR", "./out"),
			WorkDir:       getEnv("WORK_DIR", "./tmp"),
			QuarantineDir: getEnv("QUARANTINE_DIR", "./quarantine"),
		},
	}
}

// Validate checks the loaded configuration. A missing API key is not an
// error: the pipeline runs pattern-only when the model service is unusable.
func (c *Config) Validate() error {
	if c.Detect.WindowSize <= 0 {
		return NewAppError(KindCritical, "DETECT_WINDOW_SIZE must be > 0", ErrInvalidConfig)
	}
	if c.Detect.WindowOverlap < 0 || c.Detect.WindowOverlap >= c.Detect.WindowSize {
		return NewAppError(KindCritical, "DETECT_WINDOW_OVERLAP must be in [0, window size)", ErrInvalidConfig)
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0 {
		return NewAppError(KindCritical, "rate limiter capacity and refill rate must be > 0", ErrInvalidConfig)
	}
	if c.Backoff.MaxAttempts <= 0 {
		return NewAppError(KindCritical, "BACKOFF_MAX_ATTEMPTS must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
