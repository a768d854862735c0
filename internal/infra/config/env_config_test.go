package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/mkrupp/userstore/internal/infra/config"
)

type storeConfig struct {
	EnvConfig

	DatabasePath string        `env:"DATABASE_PATH" default:"var/users.db"`
	MaxUsers     int           `env:"MAX_USERS" default:"42"`
	System       bool          `env:"SYSTEM" default:"true"`
	BusyTimeout  time.Duration `env:"BUSY_TIMEOUT" default:"5s"`
	Untagged     string
	Cache        cacheConfig `envPrefix:"CACHE_"`
}

type cacheConfig struct {
	TTL time.Duration `env:"TTL" default:"10m"`
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		DatabasePath: "var/users.db",
		MaxUsers:     42,
		System:       true,
		BusyTimeout:  5 * time.Second,
		Cache:        cacheConfig{TTL: 10 * time.Minute},
	}
}

//nolint:paralleltest
func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		envVars map[string]string
		want    func() storeConfig
		wantErr bool
	}{
		{
			name:    "uses default values when env vars not set",
			envVars: map[string]string{},
			want:    defaultStoreConfig,
		},
		{
			name: "reads environment variables",
			envVars: map[string]string{
				"DATABASE_PATH": "/tmp/users.db",
				"MAX_USERS":     "7",
				"SYSTEM":        "false",
				"BUSY_TIMEOUT":  "250ms",
				"CACHE_TTL":     "1h",
			},
			want: func() storeConfig {
				return storeConfig{
					DatabasePath: "/tmp/users.db",
					MaxUsers:     7,
					System:       false,
					BusyTimeout:  250 * time.Millisecond,
					Cache:        cacheConfig{TTL: time.Hour},
				}
			},
		},
		{
			name:   "handles multi-level prefixes with fallback",
			prefix: "APP_USERCTL",
			envVars: map[string]string{
				"APP_USERCTL_DATABASE_PATH": "/srv/users.db",
				"APP_CACHE_TTL":             "30s",
			},
			want: func() storeConfig {
				cfg := defaultStoreConfig()
				cfg.DatabasePath = "/srv/users.db"
				cfg.Cache.TTL = 30 * time.Second

				return cfg
			},
		},
		{
			name:    "fails on invalid int value",
			envVars: map[string]string{"MAX_USERS": "many"},
			wantErr: true,
		},
		{
			name:    "fails on invalid bool value",
			envVars: map[string]string{"SYSTEM": "maybe"},
			wantErr: true,
		},
		{
			name:    "fails on invalid duration value",
			envVars: map[string]string{"BUSY_TIMEOUT": "5 seconds"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			var cfg storeConfig

			err := Parse(context.Background(), &cfg, tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				return
			}

			want := tt.want()
			if cfg.DatabasePath != want.DatabasePath {
				t.Errorf("DatabasePath = %v, want %v", cfg.DatabasePath, want.DatabasePath)
			}
			if cfg.MaxUsers != want.MaxUsers {
				t.Errorf("MaxUsers = %v, want %v", cfg.MaxUsers, want.MaxUsers)
			}
			if cfg.System != want.System {
				t.Errorf("System = %v, want %v", cfg.System, want.System)
			}
			if cfg.BusyTimeout != want.BusyTimeout {
				t.Errorf("BusyTimeout = %v, want %v", cfg.BusyTimeout, want.BusyTimeout)
			}
			if cfg.Untagged != "" {
				t.Errorf("Untagged = %q, want empty", cfg.Untagged)
			}
			if cfg.Cache.TTL != want.Cache.TTL {
				t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, want.Cache.TTL)
			}
			if cfg.Namespace() != tt.prefix {
				t.Errorf("Namespace() = %q, want %q", cfg.Namespace(), tt.prefix)
			}
		})
	}
}

//nolint:paralleltest
func TestParseMissingRequired(t *testing.T) {
	var cfg struct {
		EnvConfig

		Required string `env:"USERSTORE_TEST_REQUIRED"`
	}

	err := Parse(context.Background(), &cfg, "")
	if !errors.Is(err, ErrVarNotSet) {
		t.Errorf("expected error %v, got %v", ErrVarNotSet, err)
	}
}

func TestParseInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     interface{}
		wantErr error
	}{
		{
			name:    "non-pointer config",
			cfg:     storeConfig{},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "non-struct pointer",
			cfg:     new(string),
			wantErr: ErrInvalidConfig,
		},
		{
			name: "missing EnvConfig embedding",
			cfg: &struct {
				Value string `env:"VALUE"`
			}{},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Parse(context.Background(), tt.cfg, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

//nolint:paralleltest
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	if err := os.WriteFile(path, []byte("USERSTORE_DOTENV_A=from-file\nUSERSTORE_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("USERSTORE_DOTENV_B", "from-env")
	// registered so t restores the unset state afterwards
	t.Setenv("USERSTORE_DOTENV_A", "")
	os.Unsetenv("USERSTORE_DOTENV_A")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	if got := os.Getenv("USERSTORE_DOTENV_A"); got != "from-file" {
		t.Errorf("USERSTORE_DOTENV_A = %q, want %q", got, "from-file")
	}

	if got := os.Getenv("USERSTORE_DOTENV_B"); got != "from-env" {
		t.Errorf("USERSTORE_DOTENV_B = %q, want %q", got, "from-env")
	}
}
