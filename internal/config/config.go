// Package config loads process configuration from environment variables.
// A .env file is honored in development; real deployments set the variables
// directly. All validation happens here so the rest of the process never
// sees a half-formed configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/panelbridge/panelbridge-go/internal/vault"
)

// Defaults for tunable settings.
const (
	DefaultStatusInterval     = 30 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
	DefaultTokenRefreshBuffer = 300 * time.Second
	DefaultRemovedGraceDelay  = 10 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryDelay         = 5 * time.Second
	DefaultListenAddr         = ":8080"
	DefaultDataDir            = "./data"
	DefaultLogLevel           = "info"
)

// Status publisher modes.
const (
	// PublisherMemory keeps status cards in memory, served by the HTTP
	// snapshot endpoint.
	PublisherMemory = "memory"
	// PublisherWebhook posts status cards to a Discord-compatible
	// webhook; tenants supply the webhook URL as their status target.
	PublisherWebhook = "webhook"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the process configuration, fully validated.
type Config struct {
	// MultiTenant enables per-tenant interactive setup with encrypted
	// token storage. When false the process serves a single panel
	// configured through PanelURL/PanelUsername/PanelPassword.
	MultiTenant bool

	// EncryptionKey is the 32-byte vault key. Set only in multi-tenant mode.
	EncryptionKey []byte

	// Fixed panel credentials for single-tenant mode.
	PanelURL      string
	PanelUsername string
	PanelPassword string

	RequestTimeout     time.Duration
	TokenRefreshBuffer time.Duration

	StatusInterval    time.Duration
	RemovedGraceDelay time.Duration

	// StatusPublisher selects where status cards go: "memory" or
	// "webhook".
	StatusPublisher string

	// Reserved for a future retry policy on panel actions; parsed and
	// validated but not yet consumed.
	MaxRetries int
	RetryDelay time.Duration

	ListenAddr string
	DataDir    string
	LogLevel   string
	LogToFile  bool
	LogDir     string
}

// LoadEnv loads a .env file if one exists in the working directory.
func LoadEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// Load reads and validates configuration from the environment. Every
// missing required variable is reported in a single error so operators fix
// the environment in one pass.
func Load() (*Config, error) {
	cfg := &Config{
		MultiTenant:   parseBool(os.Getenv("MULTI_TENANT")),
		PanelURL:      os.Getenv("PANEL_URL"),
		PanelUsername: os.Getenv("PANEL_USERNAME"),
		PanelPassword: os.Getenv("PANEL_PASSWORD"),
		ListenAddr:    envOr("LISTEN_ADDR", DefaultListenAddr),
		DataDir:       envOr("DATA_DIR", DefaultDataDir),
		LogToFile:     parseBool(os.Getenv("LOG_TO_FILE")),
		LogDir:        os.Getenv("LOG_DIR"),
	}

	var missing []string
	if cfg.MultiTenant {
		if os.Getenv("ENCRYPTION_KEY") == "" {
			missing = append(missing, "ENCRYPTION_KEY")
		}
	} else {
		if cfg.PanelURL == "" {
			missing = append(missing, "PANEL_URL")
		}
		if cfg.PanelUsername == "" {
			missing = append(missing, "PANEL_USERNAME")
		}
		if cfg.PanelPassword == "" {
			missing = append(missing, "PANEL_PASSWORD")
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if keyHex := os.Getenv("ENCRYPTION_KEY"); keyHex != "" {
		key, err := vault.ParseKey(keyHex)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY: %w (generate with: openssl rand -hex 32)", err)
		}
		cfg.EncryptionKey = key
	}

	var err error
	if cfg.StatusInterval, err = envSeconds("STATUS_INTERVAL", DefaultStatusInterval); err != nil {
		return nil, err
	}
	if cfg.TokenRefreshBuffer, err = envSeconds("PANEL_TOKEN_REFRESH_BUFFER", DefaultTokenRefreshBuffer); err != nil {
		return nil, err
	}
	if cfg.RemovedGraceDelay, err = envSeconds("STATUS_REMOVED_GRACE", DefaultRemovedGraceDelay); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = envMillis("PANEL_REQUEST_TIMEOUT", DefaultRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = envMillis("STATUS_RETRY_DELAY", DefaultRetryDelay); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("STATUS_MAX_RETRIES", DefaultMaxRetries); err != nil {
		return nil, err
	}

	if cfg.LogLevel, err = parseLogLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return nil, err
	}

	cfg.StatusPublisher = envOr("STATUS_PUBLISHER", PublisherMemory)
	if cfg.StatusPublisher != PublisherMemory && cfg.StatusPublisher != PublisherWebhook {
		return nil, fmt.Errorf("STATUS_PUBLISHER must be %q or %q, got %q", PublisherMemory, PublisherWebhook, cfg.StatusPublisher)
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer, got %q", key, v)
	}
	return parsed, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	n, err := envInt(key, int(def/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	n, err := envInt(key, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func parseLogLevel(v string) (string, error) {
	if v == "" {
		return DefaultLogLevel, nil
	}
	lower := strings.ToLower(v)
	for _, level := range validLogLevels {
		if lower == level {
			return lower, nil
		}
	}
	return "", fmt.Errorf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", "))
}
