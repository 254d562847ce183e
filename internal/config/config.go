package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the service settings read from SHORTLINK_* environment
// variables.
type Config struct {
	Port        string
	DBPath      string
	LogLevel    string
	LogFormat   string
	BaseURL     string
	FrontendURL string

	JWTSecret []byte

	PostmarkToken string
	FromEmail     string

	RedisURL string

	CORSAllowlist []string
	TrustProxy    bool

	MaxAccounts  int
	MaxLinks     int
	FetchTimeout time.Duration

	Backup BackupConfig
}

// BackupConfig configures encrypted snapshots to S3-compatible storage.
// Backups stay off unless bucket, credentials and passphrase are all set.
type BackupConfig struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Prefix     string
	Interval   time.Duration
	Retention  time.Duration
}

var ErrMissingSecret = errors.New("SHORTLINK_JWT_SECRET is required")

// Load builds a Config from getenv, usually os.Getenv.
func Load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:          get("SHORTLINK_PORT", "8080"),
		DBPath:        get("SHORTLINK_DB_PATH", "shortlink.db"),
		LogLevel:      get("SHORTLINK_LOG_LEVEL", "info"),
		LogFormat:     get("SHORTLINK_LOG_FORMAT", "text"),
		FrontendURL:   get("SHORTLINK_FRONTEND_URL", ""),
		PostmarkToken: get("SHORTLINK_POSTMARK_TOKEN", ""),
		FromEmail:     get("SHORTLINK_FROM_EMAIL", "noreply@localhost"),
		RedisURL:      get("SHORTLINK_REDIS_URL", ""),
	}
	cfg.BaseURL = strings.TrimRight(get("SHORTLINK_BASE_URL", "http://localhost:"+cfg.Port), "/")

	secret := getenv("SHORTLINK_JWT_SECRET")
	if secret == "" {
		return Config{}, ErrMissingSecret
	}
	cfg.JWTSecret = []byte(secret)

	for _, origin := range strings.Split(getenv("SHORTLINK_CORS_ALLOWLIST"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowlist = append(cfg.CORSAllowlist, origin)
		}
	}

	var err error
	if cfg.TrustProxy, err = strconv.ParseBool(get("SHORTLINK_TRUST_PROXY", "false")); err != nil {
		return Config{}, fmt.Errorf("SHORTLINK_TRUST_PROXY: %w", err)
	}
	if cfg.MaxAccounts, err = positiveInt(get("SHORTLINK_MAX_ACCOUNTS", "50")); err != nil {
		return Config{}, fmt.Errorf("SHORTLINK_MAX_ACCOUNTS: %w", err)
	}
	if cfg.MaxLinks, err = positiveInt(get("SHORTLINK_MAX_LINKS", "100")); err != nil {
		return Config{}, fmt.Errorf("SHORTLINK_MAX_LINKS: %w", err)
	}
	if cfg.FetchTimeout, err = time.ParseDuration(get("SHORTLINK_FETCH_TIMEOUT", "5s")); err != nil {
		return Config{}, fmt.Errorf("SHORTLINK_FETCH_TIMEOUT: %w", err)
	}
	if cfg.FetchTimeout <= 0 {
		return Config{}, fmt.Errorf("SHORTLINK_FETCH_TIMEOUT: must be positive")
	}

	cfg.Backup = BackupConfig{
		Endpoint:   get("SHORTLINK_BACKUP_ENDPOINT", ""),
		Bucket:     get("SHORTLINK_BACKUP_BUCKET", ""),
		Region:     get("SHORTLINK_BACKUP_REGION", "us-east-1"),
		AccessKey:  get("SHORTLINK_BACKUP_ACCESS_KEY", ""),
		SecretKey:  getenv("SHORTLINK_BACKUP_SECRET_KEY"),
		Passphrase: getenv("SHORTLINK_BACKUP_PASSPHRASE"),
		Prefix:     get("SHORTLINK_BACKUP_PREFIX", "backups/"),
	}
	if cfg.Backup.Interval, err = positiveDuration(get("SHORTLINK_BACKUP_INTERVAL", "24h")); err != nil {
		return Config{}, fmt.Errorf("SHORTLINK_BACKUP_INTERVAL: %w", err)
	}
	if cfg.Backup.Retention, err = positiveDuration(get("SHORTLINK_BACKUP_RETENTION", "720h")); err != nil {
		return Config{}, fmt.Errorf("SHORTLINK_BACKUP_RETENTION: %w", err)
	}

	return cfg, nil
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}
