package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the API service and the job runner.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	// Optional shared token clients must send as x-workshop-token.
	WorkshopToken string

	// Callback delivery.
	CallbackTimeout       time.Duration
	CallbackMaxRetries    int
	CallbackBackoff       string
	EnableCallbackRewrite bool
	LocalTunnelNetloc     string

	// Job safety limits.
	EnableFallbackSingle bool
	MaxImageBase64Chars  int
	MaxConcurrentJobs    int
	BatchErrorsReported  int

	// Object storage (S3-compatible COS).
	COSEndpoint        string
	COSRegion          string
	COSAccessKeyID     string
	COSSecretAccessKey string
	COSBucket          string
	COSInputBucket     string
	COSOutputBucket    string
	COSInputPrefix     string
	COSOutputPrefix    string
	COSPresignExpires  time.Duration

	// Upstream image editing.
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIImageModel   string
	OpenAIImageQuality string
	OpenAIOutputFormat string

	// Submission rate limiting (disabled when RedisAddr is empty).
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	cfg := Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		WorkshopToken: strings.TrimSpace(getEnv("WORKSHOP_TOKEN", "")),

		CallbackTimeout:       getEnvDuration("CALLBACK_TIMEOUT_SECONDS", 30*time.Second),
		CallbackMaxRetries:    getEnvInt("CALLBACK_MAX_RETRIES", 3),
		CallbackBackoff:       getEnv("CALLBACK_BACKOFF_SECONDS", "1,3,8"),
		EnableCallbackRewrite: getEnvBool("ENABLE_CALLBACK_REWRITE", false),
		LocalTunnelNetloc:     getEnv("LOCAL_TUNNEL_NETLOC", "127.0.0.1:14321"),

		EnableFallbackSingle: getEnvBool("ENABLE_FALLBACK_SINGLE", true),
		MaxImageBase64Chars:  getEnvInt("MAX_IMAGE_BASE64_CHARS", 14_000_000),
		MaxConcurrentJobs:    getEnvInt("MAX_CONCURRENT_JOBS", 10),
		BatchErrorsReported:  getEnvInt("BATCH_ERRORS_REPORTED", 20),

		COSEndpoint:        strings.TrimSpace(getEnv("COS_ENDPOINT", "")),
		COSRegion:          strings.TrimSpace(getEnv("COS_REGION", "eu-geo")),
		COSAccessKeyID:     strings.TrimSpace(getEnv("COS_ACCESS_KEY_ID", "")),
		COSSecretAccessKey: strings.TrimSpace(getEnv("COS_SECRET_ACCESS_KEY", "")),
		COSBucket:          strings.TrimSpace(getEnv("COS_BUCKET", "")),
		COSInputBucket:     strings.TrimSpace(getEnv("COS_INPUT_BUCKET", "")),
		COSInputPrefix:     strings.TrimSpace(getEnv("COS_INPUT_PREFIX", "")),
		COSOutputPrefix:    strings.TrimSpace(getEnv("COS_OUTPUT_PREFIX", "results/batch")),
		COSPresignExpires:  getEnvDuration("COS_PRESIGN_EXPIRES", 900*time.Second),

		OpenAIAPIKey:       strings.TrimSpace(getEnv("OPENAI_API_KEY", "")),
		OpenAIBaseURL:      strings.TrimSpace(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")),
		OpenAIImageModel:   strings.TrimSpace(getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1")),
		OpenAIImageQuality: strings.TrimSpace(getEnv("OPENAI_IMAGE_QUALITY", "medium")),
		OpenAIOutputFormat: strings.TrimSpace(getEnv("OPENAI_IMAGE_OUTPUT_FORMAT", "png")),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),
	}
	// Legacy single-bucket deployments set COS_BUCKET only.
	cfg.COSOutputBucket = strings.TrimSpace(getEnv("COS_OUTPUT_BUCKET", cfg.COSBucket))
	return cfg
}

// RequireStorage reports the storage settings a request cannot proceed without.
func (c Config) RequireStorage() error {
	var missing []string
	if c.COSEndpoint == "" {
		missing = append(missing, "COS_ENDPOINT")
	}
	if c.COSAccessKeyID == "" {
		missing = append(missing, "COS_ACCESS_KEY_ID")
	}
	if c.COSSecretAccessKey == "" {
		missing = append(missing, "COS_SECRET_ACCESS_KEY")
	}
	if c.COSOutputBucket == "" {
		missing = append(missing, "COS_OUTPUT_BUCKET (or COS_BUCKET)")
	}
	if len(missing) > 0 {
		return errors.New("missing COS env vars: " + strings.Join(missing, ", "))
	}
	return nil
}

// RequireOpenAI verifies the upstream editing credentials are configured.
func (c Config) RequireOpenAI() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("missing env var: OPENAI_API_KEY")
	}
	return nil
}

// RequireInputBucket verifies batch jobs have a source bucket to enumerate.
func (c Config) RequireInputBucket() error {
	if c.COSInputBucket == "" {
		return errors.New("missing env var: COS_INPUT_BUCKET")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return def
}

// getEnvDuration accepts either a Go duration ("30s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}
