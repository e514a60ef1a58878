package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable override, e.g.
	// METRIX_DATABASE_DRIVER overrides database.driver.
	EnvPrefix = "METRIX"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabaseDriver is the default persistence backend.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "./metrix.db"

	// DefaultWatchInterval is the default time between polling ticks.
	DefaultWatchInterval = "1m"

	// DefaultWatchConcurrency is the default number of runs polled at once.
	DefaultWatchConcurrency = 4

	// DefaultAPIListen is the default operator API listen address.
	DefaultAPIListen = ":8080"

	// DefaultCommandTimeout bounds the post-processing command.
	DefaultCommandTimeout = "1h"

	// DefaultS3Region is used when no region is configured.
	DefaultS3Region = "us-east-1"
)

// Config is the root configuration for metrix.
type Config struct {
	Global         GlobalConfig         `yaml:"global" mapstructure:"global"`
	Database       DatabaseConfig       `yaml:"database" mapstructure:"database"`
	Watch          WatchConfig          `yaml:"watch" mapstructure:"watch"`
	PostProcessing PostProcessingConfig `yaml:"post_processing" mapstructure:"post_processing"`
	API            APIConfig            `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=panic fatal error warn warning info debug trace"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN returns the connection string for the PostgreSQL driver.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// WatchConfig configures the scheduler that polls run directories.
type WatchConfig struct {
	// Roots are directories whose immediate subdirectories are runs.
	Roots          []string `yaml:"roots" mapstructure:"roots"`
	Interval       string   `yaml:"interval,omitempty" mapstructure:"interval"`
	Concurrency    int      `yaml:"concurrency,omitempty" mapstructure:"concurrency" validate:"gte=1"`
	PollsPerSecond float64  `yaml:"polls_per_second,omitempty" mapstructure:"polls_per_second" validate:"gte=0"`
}

// IntervalDuration returns the parsed polling interval.
func (w *WatchConfig) IntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(w.Interval)
	if err != nil {
		return 0, fmt.Errorf("parsing watch interval %q: %w", w.Interval, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("watch interval must be positive, got %s", d)
	}

	return d, nil
}

// PostProcessingConfig configures the actions taken when a run finishes.
// Nothing runs unless Enabled is set.
type PostProcessingConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	S3      S3Config      `yaml:"s3,omitempty" mapstructure:"s3"`
	Command CommandConfig `yaml:"command,omitempty" mapstructure:"command"`
}

// S3Config configures archiving finished runs to an S3-compatible bucket.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url" validate:"omitempty,url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket" validate:"required_if=Enabled true"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// CommandConfig configures an external command run for each finished run.
// Args are text/template strings with access to .RunDirectory, .RunID and
// .Flowcell.
type CommandConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Path    string   `yaml:"path" mapstructure:"path" validate:"required_if=Enabled true"`
	Args    []string `yaml:"args,omitempty" mapstructure:"args"`
	Timeout string   `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// TimeoutDuration returns the parsed command timeout.
func (c *CommandConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing command timeout %q: %w", c.Timeout, err)
	}

	return d, nil
}

// APIConfig contains the operator HTTP server settings.
type APIConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Listen      string   `yaml:"listen" mapstructure:"listen" validate:"required_if=Enabled true"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
}

// Load reads a configuration file and applies METRIX_* environment
// overrides on top of it. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerKeys(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// registerKeys makes every key known to viper so AutomaticEnv can override
// keys the file leaves out.
func registerKeys(v *viper.Viper) {
	defaults := map[string]any{
		"global.log_level":                     DefaultLogLevel,
		"database.driver":                      DefaultDatabaseDriver,
		"database.sqlite.path":                 DefaultSQLitePath,
		"database.postgres.host":               "",
		"database.postgres.port":               5432,
		"database.postgres.user":               "",
		"database.postgres.password":           "",
		"database.postgres.database":           "",
		"database.postgres.ssl_mode":           "disable",
		"watch.roots":                          []string{},
		"watch.interval":                       DefaultWatchInterval,
		"watch.concurrency":                    DefaultWatchConcurrency,
		"watch.polls_per_second":               0.0,
		"post_processing.enabled":              false,
		"post_processing.s3.enabled":           false,
		"post_processing.s3.endpoint_url":      "",
		"post_processing.s3.region":            DefaultS3Region,
		"post_processing.s3.bucket":            "",
		"post_processing.s3.access_key_id":     "",
		"post_processing.s3.secret_access_key": "",
		"post_processing.s3.force_path_style":  false,
		"post_processing.s3.prefix":            "",
		"post_processing.command.enabled":      false,
		"post_processing.command.path":         "",
		"post_processing.command.args":         []string{},
		"post_processing.command.timeout":      DefaultCommandTimeout,
		"api.enabled":                          false,
		"api.listen":                           DefaultAPIListen,
		"api.cors_origins":                     []string{},
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// applyDefaults sets default values for options left empty in the file.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Watch.Interval == "" {
		c.Watch.Interval = DefaultWatchInterval
	}

	if c.Watch.Concurrency == 0 {
		c.Watch.Concurrency = DefaultWatchConcurrency
	}

	if c.PostProcessing.S3.Region == "" {
		c.PostProcessing.S3.Region = DefaultS3Region
	}

	if c.PostProcessing.Command.Timeout == "" {
		c.PostProcessing.Command.Timeout = DefaultCommandTimeout
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database.postgres.database are required for the postgres driver")
		}
	}

	if _, err := c.Watch.IntervalDuration(); err != nil {
		return err
	}

	seenRoots := make(map[string]struct{}, len(c.Watch.Roots))

	for i, root := range c.Watch.Roots {
		if root == "" {
			return fmt.Errorf("watch root %d: path is required", i)
		}

		if _, exists := seenRoots[root]; exists {
			return fmt.Errorf("watch root %d: duplicate path %q", i, root)
		}

		seenRoots[root] = struct{}{}
	}

	if c.PostProcessing.Command.Enabled {
		if _, err := c.PostProcessing.Command.TimeoutDuration(); err != nil {
			return err
		}
	}

	return nil
}
