package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the phone bridge.
type Config struct {
	BindAddr         string
	PublicHost       string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	APIToken         string
	AllowAnyOrigin   bool

	ProvisionTimeout time.Duration
	StoreTimeout     time.Duration
	WSReadTimeout    time.Duration

	ElevenLabsAPIKey     string
	ElevenLabsAPIBaseURL string
	ElevenLabsAgentID    string

	DefaultPrompt       string
	DefaultFirstMessage string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	DatabaseURL    string
	RedisURL       string
	RedisKeyPrefix string
	RedisTTL       time.Duration

	TranscriptQueueSize int
	TranscriptRedactPII bool

	LogLevel          string
	LogFormat         string
	LogFile           string
	LogFileMaxMB      int
	LogFileMaxBackups int
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the process environment. Missing files are not an error; variables already
// set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicHost:           stringsTrimSpace("APP_PUBLIC_HOST"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "phonebridge"),
		APIToken:             stringsTrimSpace("APP_API_TOKEN"),
		AllowAnyOrigin:       true,
		ElevenLabsAPIKey:     stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsAPIBaseURL: envOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsAgentID:    stringsTrimSpace("ELEVENLABS_AGENT_ID"),
		DefaultPrompt:        os.Getenv("DEFAULT_PROMPT"),
		DefaultFirstMessage:  os.Getenv("DEFAULT_FIRST_MESSAGE"),
		TwilioAccountSID:     stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber:    stringsTrimSpace("TWILIO_PHONE_NUMBER"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		RedisURL:             stringsTrimSpace("REDIS_URL"),
		RedisKeyPrefix:       envOrDefault("REDIS_KEY_PREFIX", "phonebridge:config:"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "json"),
		LogFile:              stringsTrimSpace("LOG_FILE"),
		LogFileMaxMB:         100,
		LogFileMaxBackups:    3,
		TranscriptQueueSize:  1024,
		ShutdownTimeout:      15 * time.Second,
		ProvisionTimeout:     10 * time.Second,
		StoreTimeout:         3 * time.Second,
		// Media streams send frames every 20ms; a minute of silence means the leg is gone.
		WSReadTimeout: 60 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProvisionTimeout, err = durationFromEnv("APP_PROVISION_TIMEOUT", cfg.ProvisionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreTimeout, err = durationFromEnv("APP_STORE_TIMEOUT", cfg.StoreTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSReadTimeout, err = durationFromEnv("APP_WS_READ_TIMEOUT", cfg.WSReadTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisTTL, err = durationFromEnv("REDIS_TTL", cfg.RedisTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptQueueSize, err = intFromEnv("TRANSCRIPT_QUEUE_SIZE", cfg.TranscriptQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptRedactPII, err = boolFromEnv("TRANSCRIPT_REDACT_PII", cfg.TranscriptRedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.LogFileMaxMB, err = intFromEnv("LOG_FILE_MAX_MB", cfg.LogFileMaxMB)
	if err != nil {
		return Config{}, err
	}
	cfg.LogFileMaxBackups, err = intFromEnv("LOG_FILE_MAX_BACKUPS", cfg.LogFileMaxBackups)
	if err != nil {
		return Config{}, err
	}

	if cfg.ProvisionTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_PROVISION_TIMEOUT must be at least 1s")
	}
	if cfg.StoreTimeout < 100*time.Millisecond {
		return Config{}, fmt.Errorf("APP_STORE_TIMEOUT must be at least 100ms")
	}
	if cfg.WSReadTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_WS_READ_TIMEOUT must be at least 5s")
	}
	if cfg.RedisTTL < 0 {
		return Config{}, fmt.Errorf("REDIS_TTL must be >= 0")
	}
	if cfg.TranscriptQueueSize <= 0 {
		return Config{}, fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be positive")
	}
	if cfg.LogFileMaxMB <= 0 {
		return Config{}, fmt.Errorf("LOG_FILE_MAX_MB must be positive")
	}
	if cfg.LogFileMaxBackups < 0 {
		return Config{}, fmt.Errorf("LOG_FILE_MAX_BACKUPS must be >= 0")
	}

	return cfg, nil
}

// OutboundEnabled reports whether Twilio credentials are present.
func (c Config) OutboundEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
