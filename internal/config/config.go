package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"gitea.jw6.us/james/reservo/internal/crypto"
)

// ErrInvalid wraps every configuration problem found by Load.
var ErrInvalid = errors.New("invalid configuration")

const defaultIssuerURL = "https://accounts.google.com"

// Config is built once at startup and passed to the components that need it.
type Config struct {
	ListenAddr string
	BaseURL    string
	Env        string

	DB struct {
		DSN string
	}

	// EncryptionKey is the decoded 32-byte key used for credentials at rest.
	EncryptionKey []byte

	Google struct {
		ClientID     string
		ClientSecret string
		RedirectURL  string
		IssuerURL    string
		CalendarID   string
	}

	Session struct {
		Secret string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	RemoteTimeout     time.Duration
	PrometheusEnabled bool
	TrustedProxies    []string
}

// Load reads the configuration from the environment. All missing or malformed
// values are reported together.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs error

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = getenvDefault("APP_BASE_URL", "http://localhost:8080")
	cfg.Env = getenvDefault("APP_ENV", "development")

	cfg.DB.DSN = os.Getenv("APP_DB_DSN")
	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		} else {
			errs = multierr.Append(errs, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)"))
		}
	}

	key, err := crypto.ParseKey(os.Getenv("APP_ENCRYPTION_KEY"))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("APP_ENCRYPTION_KEY: %w", err))
	}
	cfg.EncryptionKey = key

	cfg.Google.ClientID = os.Getenv("APP_GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("APP_GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectURL = os.Getenv("APP_GOOGLE_REDIRECT_URL")
	cfg.Google.IssuerURL = getenvDefault("APP_OAUTH_ISSUER_URL", defaultIssuerURL)
	cfg.Google.CalendarID = getenvDefault("APP_GOOGLE_CALENDAR_ID", "primary")
	for name, value := range map[string]string{
		"APP_GOOGLE_CLIENT_ID":     cfg.Google.ClientID,
		"APP_GOOGLE_CLIENT_SECRET": cfg.Google.ClientSecret,
		"APP_GOOGLE_REDIRECT_URL":  cfg.Google.RedirectURL,
	} {
		if value == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s is required", name))
		}
	}

	cfg.Session.Secret = os.Getenv("APP_SESSION_SECRET")
	switch {
	case cfg.Session.Secret == "":
		errs = multierr.Append(errs, errors.New("APP_SESSION_SECRET is required"))
	case len(cfg.Session.Secret) < 32:
		errs = multierr.Append(errs, fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(cfg.Session.Secret)))
	}

	cfg.Redis.Addr = os.Getenv("APP_REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("APP_REDIS_PASSWORD")
	if v := os.Getenv("APP_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			errs = multierr.Append(errs, fmt.Errorf("APP_REDIS_DB must be a non-negative integer (got %q)", v))
		}
		cfg.Redis.DB = db
	}

	cfg.RemoteTimeout = 10 * time.Second
	if v := os.Getenv("APP_REMOTE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("APP_REMOTE_TIMEOUT must be a positive duration (got %q)", v))
		} else {
			cfg.RemoteTimeout = d
		}
	}

	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
