package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/viralforge/media-download-proxy/internal/application"
)

const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"

	environmentDevelopment = "development"
	environmentProduction  = "production"
	minHashKeyLength       = 16
)

// Config is the resolved runtime configuration for the proxy.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID   string
	Environment string

	HTTPPort      int
	GRPCPort      int
	AllowedOrigin string

	StoreBackend string
	RedisURL     string
	DatabaseURL  string
	MaxDBConns   int

	KafkaBrokers []string
	KafkaTopic   string

	RapidAPIKey  string
	RapidAPIHost string
	ExtractorURL string

	SessionHashKey        string
	CaptchaMinTokenLength int
	CaptchaPassSecret     string
	CaptchaPassAudience   string

	Pipeline application.Config

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// Development reports whether error details and insecure cookies are allowed.
// Only an explicit ENVIRONMENT=development enables it.
func (c Config) Development() bool {
	return c.Environment == environmentDevelopment
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID            string `yaml:"id"`
		Environment   string `yaml:"environment"`
		HTTPPort      int    `yaml:"http_port"`
		GRPCPort      int    `yaml:"grpc_port"`
		AllowedOrigin string `yaml:"allowed_origin"`
	} `yaml:"service"`
	Dependencies struct {
		StoreBackend string   `yaml:"store_backend"`
		RedisURL     string   `yaml:"redis_url"`
		PostgresURL  string   `yaml:"postgres_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Extractor struct {
		Host    string `yaml:"host"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"extractor"`
	Limits struct {
		SessionTimeoutMinutes  int     `yaml:"session_timeout_minutes"`
		RateLimitWindowSeconds int     `yaml:"rate_limit_window_seconds"`
		RateLimitMaxRequests   int     `yaml:"rate_limit_max_requests"`
		CaptchaScoreThreshold  int     `yaml:"captcha_score_threshold"`
		BanScoreThreshold      int     `yaml:"ban_score_threshold"`
		BanDurationMinutes     int     `yaml:"ban_duration_minutes"`
		CaptchaScoreRelief     *int    `yaml:"captcha_score_relief"`
		CaptchaMinTokenLength  int     `yaml:"captcha_min_token_length"`
		MaxFileSizeMB          float64 `yaml:"max_file_size_mb"`
		DefaultMediaSizeMB     float64 `yaml:"default_media_size_mb"`
		DailyBandwidthMB       float64 `yaml:"daily_bandwidth_mb"`
		ComplianceScoreFloor   *int    `yaml:"compliance_score_floor"`
		DMCAMaxRequests        int     `yaml:"dmca_max_requests"`
		DMCAWindowHours        int     `yaml:"dmca_window_hours"`
	} `yaml:"limits"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> .env -> env.
// Values from .env never replace variables already present in the process environment.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:             "Media-Download-Proxy",
		Environment:           environmentProduction,
		HTTPPort:              3000,
		GRPCPort:              9090,
		AllowedOrigin:         "http://localhost:5173",
		StoreBackend:          StoreBackendMemory,
		MaxDBConns:            10,
		KafkaTopic:            "media-proxy.security-events",
		RapidAPIHost:          "instagram-downloader38.p.rapidapi.com",
		CaptchaMinTokenLength: 20,
		Pipeline:              application.DefaultConfig(),
		OutboxPollInterval:    2 * time.Second,
		OutboxBatchSize:       100,
		OutboxClaimTTL:        30 * time.Second,
		OutboxMaxRetries:      5,
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.Environment != "" {
		cfg.Environment = f.Service.Environment
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.AllowedOrigin != "" {
		cfg.AllowedOrigin = f.Service.AllowedOrigin
	}
	if f.Dependencies.StoreBackend != "" {
		cfg.StoreBackend = f.Dependencies.StoreBackend
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaTopic != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopic
	}
	if f.Extractor.Host != "" {
		cfg.RapidAPIHost = f.Extractor.Host
	}
	if f.Extractor.BaseURL != "" {
		cfg.ExtractorURL = f.Extractor.BaseURL
	}

	l := f.Limits
	p := &cfg.Pipeline
	if l.SessionTimeoutMinutes > 0 {
		p.SessionTimeout = time.Duration(l.SessionTimeoutMinutes) * time.Minute
	}
	if l.RateLimitWindowSeconds > 0 {
		p.RateLimitWindow = time.Duration(l.RateLimitWindowSeconds) * time.Second
	}
	if l.RateLimitMaxRequests > 0 {
		p.RateLimitMaxRequests = l.RateLimitMaxRequests
	}
	if l.CaptchaScoreThreshold > 0 {
		p.CaptchaScoreThreshold = l.CaptchaScoreThreshold
	}
	if l.BanScoreThreshold > 0 {
		p.BanScoreThreshold = l.BanScoreThreshold
	}
	if l.BanDurationMinutes > 0 {
		p.BanDuration = time.Duration(l.BanDurationMinutes) * time.Minute
	}
	if l.CaptchaScoreRelief != nil {
		p.CaptchaScoreRelief = *l.CaptchaScoreRelief
	}
	if l.CaptchaMinTokenLength > 0 {
		cfg.CaptchaMinTokenLength = l.CaptchaMinTokenLength
	}
	if l.MaxFileSizeMB > 0 {
		p.MaxFileSizeMB = l.MaxFileSizeMB
	}
	if l.DefaultMediaSizeMB > 0 {
		p.DefaultMediaSizeMB = l.DefaultMediaSizeMB
	}
	if l.ComplianceScoreFloor != nil {
		p.ComplianceScoreFloor = *l.ComplianceScoreFloor
	}
	if l.DailyBandwidthMB > 0 {
		p.DailyBandwidthMB = l.DailyBandwidthMB
	}
	if l.DMCAMaxRequests > 0 {
		p.DMCAMaxRequests = l.DMCAMaxRequests
	}
	if l.DMCAWindowHours > 0 {
		p.DMCAWindow = time.Duration(l.DMCAWindowHours) * time.Hour
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = strings.ToLower(strings.TrimSpace(envOrDefault("ENVIRONMENT", envOrDefault("NODE_ENV", cfg.Environment))))
	cfg.HTTPPort = envInt("HTTP_PORT", envInt("PORT", cfg.HTTPPort))
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.AllowedOrigin = envOrDefault("ALLOWED_ORIGIN", envOrDefault("FRONTEND_URL", cfg.AllowedOrigin))

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(envOrDefault("STORE_BACKEND", cfg.StoreBackend)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = envInt("DB_MAX_CONNS", cfg.MaxDBConns)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.RapidAPIKey = envOrDefault("RAPIDAPI_KEY", cfg.RapidAPIKey)
	cfg.RapidAPIHost = envOrDefault("RAPIDAPI_HOST", cfg.RapidAPIHost)
	cfg.ExtractorURL = envOrDefault("EXTRACTOR_URL", cfg.ExtractorURL)

	cfg.SessionHashKey = envOrDefault("SESSION_HASH_KEY", cfg.SessionHashKey)
	cfg.CaptchaMinTokenLength = envInt("CAPTCHA_MIN_TOKEN_LENGTH", cfg.CaptchaMinTokenLength)
	cfg.CaptchaPassSecret = envOrDefault("CAPTCHA_PASS_SECRET", cfg.CaptchaPassSecret)
	cfg.CaptchaPassAudience = envOrDefault("CAPTCHA_PASS_AUDIENCE", cfg.CaptchaPassAudience)

	p := &cfg.Pipeline
	p.SessionTimeout = time.Duration(envInt("SESSION_TIMEOUT_MINUTES", int(p.SessionTimeout.Minutes()))) * time.Minute
	p.RateLimitWindow = time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", int(p.RateLimitWindow.Seconds()))) * time.Second
	p.RateLimitMaxRequests = envInt("RATE_LIMIT_MAX_REQUESTS", p.RateLimitMaxRequests)
	p.CaptchaScoreThreshold = envInt("CAPTCHA_SCORE_THRESHOLD", p.CaptchaScoreThreshold)
	p.BanScoreThreshold = envInt("BAN_SCORE_THRESHOLD", p.BanScoreThreshold)
	p.BanDuration = time.Duration(envInt("BAN_DURATION_MINUTES", int(p.BanDuration.Minutes()))) * time.Minute
	p.CaptchaScoreRelief = envInt("CAPTCHA_SCORE_RELIEF", p.CaptchaScoreRelief)
	p.MaxFileSizeMB = envFloat("MAX_FILE_SIZE_MB", p.MaxFileSizeMB)
	p.DefaultMediaSizeMB = envFloat("DEFAULT_MEDIA_SIZE_MB", p.DefaultMediaSizeMB)
	p.ComplianceScoreFloor = envInt("COMPLIANCE_SCORE_FLOOR", p.ComplianceScoreFloor)
	p.DailyBandwidthMB = envFloat("DAILY_BANDWIDTH_MB", p.DailyBandwidthMB)
	p.BandwidthPeriod = time.Duration(envInt("BANDWIDTH_RESET_HOURS", int(p.BandwidthPeriod.Hours()))) * time.Hour
	p.DownloadTimeout = time.Duration(envInt("DOWNLOAD_TIMEOUT_SECONDS", int(p.DownloadTimeout.Seconds()))) * time.Second
	p.DownloadLinkTTL = time.Duration(envInt("DOWNLOAD_LINK_TTL_SECONDS", int(p.DownloadLinkTTL.Seconds()))) * time.Second
	p.DMCAMaxRequests = envInt("DMCA_MAX_REQUESTS", p.DMCAMaxRequests)
	p.DMCAWindow = time.Duration(envInt("DMCA_WINDOW_HOURS", int(p.DMCAWindow.Hours()))) * time.Hour

	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("missing REDIS_URL for redis store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SessionHashKey == "" && !c.Development() {
		return fmt.Errorf("missing SESSION_HASH_KEY")
	}
	if c.SessionHashKey != "" && len(c.SessionHashKey) < minHashKeyLength {
		return fmt.Errorf("SESSION_HASH_KEY must be at least %d bytes", minHashKeyLength)
	}
	if c.RapidAPIKey == "" && !c.Development() {
		return fmt.Errorf("missing RAPIDAPI_KEY")
	}

	p := c.Pipeline
	if p.RateLimitMaxRequests <= 0 || p.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window and maximum must be positive")
	}
	if p.CaptchaScoreThreshold <= 0 || p.BanScoreThreshold <= p.CaptchaScoreThreshold {
		return fmt.Errorf("ban threshold must exceed captcha threshold")
	}
	if p.SessionTimeout <= 0 || p.BanDuration <= 0 || p.DownloadTimeout <= 0 || p.BandwidthPeriod <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	if p.CaptchaScoreRelief < 0 {
		return fmt.Errorf("CAPTCHA_SCORE_RELIEF must not be negative")
	}
	if c.CaptchaMinTokenLength < 1 {
		return fmt.Errorf("CAPTCHA_MIN_TOKEN_LENGTH must be at least 1")
	}
	if p.MaxFileSizeMB <= 0 || p.DailyBandwidthMB <= 0 || p.DefaultMediaSizeMB <= 0 {
		return fmt.Errorf("size limits must be positive")
	}
	if p.ComplianceScoreFloor < 0 {
		return fmt.Errorf("COMPLIANCE_SCORE_FLOOR must not be negative")
	}
	if p.DMCAMaxRequests <= 0 || p.DMCAWindow <= 0 {
		return fmt.Errorf("dmca window and maximum must be positive")
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
