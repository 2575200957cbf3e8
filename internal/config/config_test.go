package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allEnvVars = []string{
	"DATABASE_URL", "HTTP_ADDR", "NATS_URL", "REDIS_URL", "LOG_LEVEL", "LOG_FORMAT",
	"CATALOG_URL", "CATALOG_FILE", "CATALOG_TOKEN",
	"AUTH_MODE", "AUTH_TOKEN", "JWT_SECRET", "TOKEN_TTL", "BASIC_USERNAME", "BASIC_PASSWORD", "CORS_ORIGINS",
	"SESSION_IDLE", "BACKUP_CHECK_INTERVAL", "AUTOSAVE_INTERVAL",
	"SYNC_INTERVAL", "SYNC_S3_BUCKET", "SYNC_S3_ENDPOINT", "SYNC_S3_REGION", "SYNC_S3_KEY",
	"SYNC_S3_COMPRESS", "SYNC_GIT_REPO", "SYNC_GIT_FILE", "SYNC_GIT_BRANCH",
}

// clearAllEnv unsets every FLOWCANVAS_ variable for the duration of the test.
func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		key = Prefix + "_" + key
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// noEnvFile points Load at a file that does not exist.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantHTTPAddr string
		wantDatabase string
		wantNATSURL  string
	}{
		{
			name:         "Defaults",
			env:          map[string]string{},
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomValues",
			env: map[string]string{
				"FLOWCANVAS_DATABASE_URL": "postgres://db:5432/flows",
				"FLOWCANVAS_HTTP_ADDR":    ":3000",
				"FLOWCANVAS_NATS_URL":     "nats://localhost:4222",
			},
			wantHTTPAddr: ":3000",
			wantDatabase: "postgres://db:5432/flows",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name:    "BadDuration",
			env:     map[string]string{"FLOWCANVAS_SESSION_IDLE": "soon"},
			wantErr: true,
		},
		{
			name:    "BadLogFormat",
			env:     map[string]string{"FLOWCANVAS_LOG_FORMAT": "xml"},
			wantErr: true,
		},
		{
			name:    "BadLogLevel",
			env:     map[string]string{"FLOWCANVAS_LOG_LEVEL": "loud"},
			wantErr: true,
		},
		{
			name:    "NegativeSyncInterval",
			env:     map[string]string{"FLOWCANVAS_SYNC_INTERVAL": "-1m"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(noEnvFile(t))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.DatabaseURL != tc.wantDatabase {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.wantDatabase)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoad_SessionDefaults(t *testing.T) {
	clearAllEnv(t)
	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionIdle != 30*time.Minute {
		t.Errorf("SessionIdle = %v, want 30m", cfg.SessionIdle)
	}
	if cfg.BackupCheckInterval != 5*time.Second {
		t.Errorf("BackupCheckInterval = %v, want 5s", cfg.BackupCheckInterval)
	}
	if cfg.AutosaveInterval != 30*time.Second {
		t.Errorf("AutosaveInterval = %v, want 30s", cfg.AutosaveInterval)
	}
	if cfg.AuthMode != "none" || cfg.TokenTTL != 24*time.Hour {
		t.Errorf("unexpected auth defaults: mode=%q ttl=%v", cfg.AuthMode, cfg.TokenTTL)
	}
	if lvl, _ := cfg.Level(); lvl.String() != "INFO" {
		t.Errorf("Level = %v, want INFO", lvl)
	}
}

func TestLoad_SyncDefaults(t *testing.T) {
	clearAllEnv(t)
	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 3*time.Minute {
		t.Errorf("SyncInterval = %v, want 3m", cfg.SyncInterval)
	}
	if cfg.SyncS3Region != "us-east-1" {
		t.Errorf("SyncS3Region = %q, want us-east-1", cfg.SyncS3Region)
	}
	if cfg.SyncS3Key != "flowcanvas/flows.jsonl" {
		t.Errorf("SyncS3Key = %q", cfg.SyncS3Key)
	}
	if cfg.SyncGitFile != "flows.jsonl" || cfg.SyncGitBranch != "main" {
		t.Errorf("unexpected git defaults: file=%q branch=%q", cfg.SyncGitFile, cfg.SyncGitBranch)
	}
	if cfg.SyncS3Compress {
		t.Error("expected compression off by default")
	}
}

func TestLoad_SyncDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("FLOWCANVAS_SYNC_INTERVAL", "0s")
	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want 0", cfg.SyncInterval)
	}
}

func TestLoad_AuthAndCORS(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("FLOWCANVAS_AUTH_MODE", " JWT ")
	t.Setenv("FLOWCANVAS_JWT_SECRET", "k")
	t.Setenv("FLOWCANVAS_CORS_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuthMode != "jwt" {
		t.Errorf("AuthMode = %q, want jwt", cfg.AuthMode)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("CORSOrigins = %q", cfg.CORSOrigins)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "FLOWCANVAS_HTTP_ADDR=:9999\nFLOWCANVAS_REDIS_URL=redis://cache:6379/0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// The process environment wins over the file.
	t.Setenv("FLOWCANVAS_HTTP_ADDR", ":7000")
	t.Cleanup(func() { os.Unsetenv("FLOWCANVAS_REDIS_URL") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q, want :7000", cfg.HTTPAddr)
	}
	if cfg.RedisURL != "redis://cache:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
}
