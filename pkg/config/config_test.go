package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
database:
  driver: sqlite
  sqlite:
    path: /var/lib/metrix/original.db
watch:
  roots:
    - /data/runs
  interval: 30s
  concurrency: 2
post_processing:
  enabled: false
  s3:
    enabled: true
    bucket: original-bucket
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "/var/lib/metrix/original.db", cfg.Database.SQLite.Path)
				assert.Equal(t, []string{"/data/runs"}, cfg.Watch.Roots)
				assert.Equal(t, 2, cfg.Watch.Concurrency)
				assert.Equal(t, "original-bucket", cfg.PostProcessing.S3.Bucket)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"METRIX_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested string override - sqlite path",
			envVars: map[string]string{
				"METRIX_DATABASE_SQLITE_PATH": "/tmp/override.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/override.db", cfg.Database.SQLite.Path)
			},
		},
		{
			name: "boolean override - post processing gate",
			envVars: map[string]string{
				"METRIX_POST_PROCESSING_ENABLED": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.PostProcessing.Enabled)
			},
		},
		{
			name: "integer override - concurrency",
			envVars: map[string]string{
				"METRIX_WATCH_CONCURRENCY": "16",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 16, cfg.Watch.Concurrency)
			},
		},
		{
			name: "key absent from file - postgres host",
			envVars: map[string]string{
				"METRIX_DATABASE_DRIVER":        "postgres",
				"METRIX_DATABASE_POSTGRES_HOST": "db.internal",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
				assert.Equal(t, 5432, cfg.Database.Postgres.Port)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	configPath := writeConfig(t, "global: {}\n")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultDatabaseDriver, cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultWatchInterval, cfg.Watch.Interval)
	assert.Equal(t, DefaultWatchConcurrency, cfg.Watch.Concurrency)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.False(t, cfg.PostProcessing.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_WithoutFile(t *testing.T) {
	t.Setenv("METRIX_WATCH_INTERVAL", "5m")

	cfg, err := Load("")
	require.NoError(t, err)

	d, err := cfg.Watch.IntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "global: [unterminated\n")

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:      "unknown log level",
			mutate:    func(cfg *Config) { cfg.Global.LogLevel = "loud" },
			wantErr:   true,
			errSubstr: "LogLevel",
		},
		{
			name:      "unknown driver",
			mutate:    func(cfg *Config) { cfg.Database.Driver = "mysql" },
			wantErr:   true,
			errSubstr: "Driver",
		},
		{
			name:      "postgres without host",
			mutate:    func(cfg *Config) { cfg.Database.Driver = "postgres" },
			wantErr:   true,
			errSubstr: "database.postgres.host",
		},
		{
			name:      "bad interval",
			mutate:    func(cfg *Config) { cfg.Watch.Interval = "often" },
			wantErr:   true,
			errSubstr: "watch interval",
		},
		{
			name:      "non-positive interval",
			mutate:    func(cfg *Config) { cfg.Watch.Interval = "0s" },
			wantErr:   true,
			errSubstr: "must be positive",
		},
		{
			name:      "duplicate root",
			mutate:    func(cfg *Config) { cfg.Watch.Roots = []string{"/a", "/a"} },
			wantErr:   true,
			errSubstr: "duplicate path",
		},
		{
			name:      "s3 enabled without bucket",
			mutate:    func(cfg *Config) { cfg.PostProcessing.S3.Enabled = true },
			wantErr:   true,
			errSubstr: "Bucket",
		},
		{
			name:      "command enabled without path",
			mutate:    func(cfg *Config) { cfg.PostProcessing.Command.Enabled = true },
			wantErr:   true,
			errSubstr: "Path",
		},
		{
			name: "command with bad timeout",
			mutate: func(cfg *Config) {
				cfg.PostProcessing.Command.Enabled = true
				cfg.PostProcessing.Command.Path = "/usr/bin/true"
				cfg.PostProcessing.Command.Timeout = "soon"
			},
			wantErr:   true,
			errSubstr: "command timeout",
		},
		{
			name:      "negative rate",
			mutate:    func(cfg *Config) { cfg.Watch.PollsPerSecond = -1 },
			wantErr:   true,
			errSubstr: "PollsPerSecond",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	p := PostgresConfig{
		Host: "localhost", Port: 5432, User: "metrix",
		Password: "secret", Database: "runs", SSLMode: "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=metrix password=secret dbname=runs sslmode=disable",
		p.DSN(),
	)
}
