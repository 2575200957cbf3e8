// Package config loads server settings from FLOWCANVAS_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. FLOWCANVAS_HTTP_ADDR.
const Prefix = "FLOWCANVAS"

type Config struct {
	// Empty DatabaseURL selects the in-memory store, empty NATSURL disables
	// events and empty RedisURL keeps backups in memory.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	NATSURL     string `envconfig:"NATS_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"` // text or json

	// Template catalog. CatalogURL wins over CatalogFile.
	CatalogURL   string `envconfig:"CATALOG_URL"`
	CatalogFile  string `envconfig:"CATALOG_FILE"`
	CatalogToken string `envconfig:"CATALOG_TOKEN"`

	// Auth
	AuthMode      string        `envconfig:"AUTH_MODE" default:"none"`
	AuthToken     string        `envconfig:"AUTH_TOKEN"`
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	TokenTTL      time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	BasicUsername string        `envconfig:"BASIC_USERNAME"`
	BasicPassword string        `envconfig:"BASIC_PASSWORD"`
	CORSOrigins   []string      `envconfig:"CORS_ORIGINS"`

	// Canvas sessions
	SessionIdle         time.Duration `envconfig:"SESSION_IDLE" default:"30m"`
	BackupCheckInterval time.Duration `envconfig:"BACKUP_CHECK_INTERVAL" default:"5s"`
	AutosaveInterval    time.Duration `envconfig:"AUTOSAVE_INTERVAL" default:"30s"`

	// Sync settings
	SyncInterval   time.Duration `envconfig:"SYNC_INTERVAL" default:"3m"` // 0 = disabled
	SyncS3Bucket   string        `envconfig:"SYNC_S3_BUCKET"`             // enables S3 when set
	SyncS3Endpoint string        `envconfig:"SYNC_S3_ENDPOINT"`           // custom endpoint for MinIO
	SyncS3Region   string        `envconfig:"SYNC_S3_REGION" default:"us-east-1"`
	SyncS3Key      string        `envconfig:"SYNC_S3_KEY" default:"flowcanvas/flows.jsonl"`
	SyncS3Compress bool          `envconfig:"SYNC_S3_COMPRESS"` // zstd, appends .zst to the key
	SyncGitRepo    string        `envconfig:"SYNC_GIT_REPO"`    // enables git when set; path to clone
	SyncGitFile    string        `envconfig:"SYNC_GIT_FILE" default:"flows.jsonl"`
	SyncGitBranch  string        `envconfig:"SYNC_GIT_BRANCH" default:"main"`
}

// Load reads the configuration. Variables already set in the environment
// take precedence over the given .env files; with no files, ".env" in the
// working directory is tried. Missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("processing environment configuration: %w", err)
	}
	c.AuthMode = strings.ToLower(strings.TrimSpace(c.AuthMode))
	c.CORSOrigins = trimAll(c.CORSOrigins)

	if c.SyncInterval < 0 {
		return nil, fmt.Errorf("%s_SYNC_INTERVAL must not be negative", Prefix)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("%s_LOG_FORMAT must be text or json, got %q", Prefix, c.LogFormat)
	}
	if _, err := c.Level(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%s_LOG_LEVEL: %w", Prefix, err)
	}
	return lvl, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
