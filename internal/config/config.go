// Package config loads retail-sync configuration from a YAML file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone names resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/retail-sync/internal/logging"
	"github.com/withObsrvr/retail-sync/internal/metadata"
	"github.com/withObsrvr/retail-sync/internal/metrics"
	"github.com/withObsrvr/retail-sync/internal/notify"
	"github.com/withObsrvr/retail-sync/internal/records"
	"github.com/withObsrvr/retail-sync/internal/source"
	"github.com/withObsrvr/retail-sync/internal/tables"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Interval     time.Duration    `yaml:"interval"`
	ForceRefresh bool             `yaml:"force_refresh"`
	Destination  string           `yaml:"destination"`
	Timezone     string           `yaml:"timezone"`
	TimeBuckets  []records.Bucket `yaml:"time_buckets"`

	Source    SourceConfig           `yaml:"source"`
	Artifacts ArtifactsConfig        `yaml:"artifacts"`
	State     StateConfig            `yaml:"state"`
	Lock      LockConfig             `yaml:"lock"`
	Catalog   metadata.CatalogConfig `yaml:"catalog"`
	Notify    notify.Config          `yaml:"notify"`
	Metrics   metrics.Config         `yaml:"metrics"`
	Logging   LoggingConfig          `yaml:"logging"`
}

type SourceConfig struct {
	Locator         string                `yaml:"locator"`
	Credentials     source.CredentialRefs `yaml:"credentials"`
	Timeout         time.Duration         `yaml:"timeout"`
	MaxAttempts     int                   `yaml:"max_attempts"`
	InitialBackoff  time.Duration         `yaml:"initial_backoff"`
	MaxBackoff      time.Duration         `yaml:"max_backoff"`
	UserAgent       string                `yaml:"user_agent"`
	MinPayloadBytes int                   `yaml:"min_payload_bytes"`
}

type ArtifactsConfig struct {
	Formats     []string `yaml:"formats"`
	Compression string   `yaml:"compression"`
	Retain      int      `yaml:"retain"` // finalized generations to keep, 0 keeps all
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type LockConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Logging converts to the logging package's configuration.
func (c LoggingConfig) Logging() logging.Config {
	return logging.Config{Format: c.Format, Level: c.Level}
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	retry := source.DefaultRetryPolicy()
	return Config{
		Interval:    15 * time.Minute,
		Timezone:    "UTC",
		TimeBuckets: records.DefaultBuckets(),
		Source: SourceConfig{
			Timeout:         60 * time.Second,
			MaxAttempts:     retry.MaxAttempts,
			InitialBackoff:  retry.InitialBackoff,
			MaxBackoff:      retry.MaxBackoff,
			UserAgent:       "retail-sync",
			MinPayloadBytes: 1000,
		},
		Artifacts: ArtifactsConfig{
			Formats:     []string{"csv", "parquet"},
			Compression: "snappy",
			Retain:      5,
		},
		State: StateConfig{Dir: "./state"},
		Notify: notify.Config{
			BackupDir:   "./state/events",
			MaxAttempts: 3,
		},
		Metrics: metrics.Config{Address: ":9090", Namespace: "retail_sync"},
		Logging: LoggingConfig{Format: "text", Level: "info"},
	}
}

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	ConfigFile string // optional YAML file
	EnvFile    string // optional .env file; missing files are ignored

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration: defaults, then the YAML file, then the
// .env file, then the environment. It does not validate.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.ConfigFile, err)
		}
	}

	// Variables already in the environment win over the .env file.
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides cfg from environment variables. Credentials are kept
// as env: references so secrets never enter the config value.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(keys ...string) (string, string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return k, strings.TrimSpace(v), true
			}
		}
		return "", "", false
	}

	if _, v, ok := get("SOURCE_LOCATOR", "SHAREPOINT_URL"); ok {
		cfg.Source.Locator = v
	}
	if k, _, ok := get("SOURCE_USERNAME", "SHAREPOINT_USERNAME"); ok {
		cfg.Source.Credentials.Username = "env:" + k
	}
	if k, _, ok := get("SOURCE_PASSWORD", "SHAREPOINT_PASSWORD"); ok {
		cfg.Source.Credentials.Password = "env:" + k
	}
	if k, _, ok := get("SOURCE_TOKEN"); ok {
		cfg.Source.Credentials.Token = "env:" + k
	}
	if _, v, ok := get("DESTINATION"); ok {
		cfg.Destination = v
	}
	if k, v, ok := get("SYNC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
		}
		cfg.Interval = d
	}
	if k, v, ok := get("FORCE_REFRESH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
		}
		cfg.ForceRefresh = b
	}
	if _, v, ok := get("TIMEZONE"); ok {
		cfg.Timezone = v
	}
	if _, v, ok := get("STATE_DIR"); ok {
		cfg.State.Dir = v
	}
	if _, v, ok := get("CATALOG_DSN"); ok {
		cfg.Catalog.PostgresDSN = v
	}
	if _, v, ok := get("NOTIFY_ENDPOINT"); ok {
		cfg.Notify.Endpoint = v
		cfg.Notify.Enabled = true
	}
	if _, v, ok := get("METRICS_ADDR"); ok {
		cfg.Metrics.Address = v
		cfg.Metrics.Enabled = true
	}
	if _, v, ok := get("LOG_FORMAT"); ok {
		cfg.Logging.Format = v
	}
	if _, v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks required fields and that derived settings can be built.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Source.Locator) == "" {
		add("source.locator is required (or SOURCE_LOCATOR)")
	} else if _, err := source.NormalizeLocator(c.Source.Locator); err != nil {
		add("source.locator: %v", err)
	}
	if strings.TrimSpace(c.Destination) == "" {
		add("destination is required (or DESTINATION)")
	}
	if c.Interval <= 0 {
		add("interval must be positive, got %s", c.Interval)
	}
	if _, err := c.Location(); err != nil {
		add("timezone: %v", err)
	}
	if _, err := c.Buckets(); err != nil {
		add("time_buckets: %v", err)
	}
	if _, err := c.EncodeConfig(); err != nil {
		add("artifacts: %v", err)
	}
	if c.Artifacts.Retain < 0 {
		add("artifacts.retain must not be negative")
	}
	if c.Source.MaxAttempts < 1 {
		add("source.max_attempts must be at least 1")
	}
	if c.Source.Timeout <= 0 {
		add("source.timeout must be positive")
	}
	if c.State.Dir == "" {
		add("state.dir is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Location returns the timezone used for zone-less source timestamps.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Buckets builds the time-of-day partition.
func (c *Config) Buckets() (*records.TimeBuckets, error) {
	if len(c.TimeBuckets) == 0 {
		return records.DefaultTimeBuckets(), nil
	}
	return records.NewTimeBuckets(c.TimeBuckets)
}

// EncodeConfig returns the table serialization settings.
func (c *Config) EncodeConfig() (tables.EncodeConfig, error) {
	formats, err := tables.ParseFormats(c.Artifacts.Formats)
	if err != nil {
		return tables.EncodeConfig{}, err
	}
	if err := tables.ValidateCompression(c.Artifacts.Compression); err != nil {
		return tables.EncodeConfig{}, err
	}
	return tables.EncodeConfig{Formats: formats, Compression: c.Artifacts.Compression}, nil
}

// SourceClientConfig returns the fetcher settings.
func (c *Config) SourceClientConfig() source.Config {
	retry := source.DefaultRetryPolicy()
	retry.MaxAttempts = c.Source.MaxAttempts
	retry.InitialBackoff = c.Source.InitialBackoff
	retry.MaxBackoff = c.Source.MaxBackoff
	return source.Config{
		Timeout:         c.Source.Timeout,
		Retry:           retry,
		UserAgent:       c.Source.UserAgent,
		MinPayloadBytes: c.Source.MinPayloadBytes,
	}
}

// LockDir returns the directory for run lock files.
func (c *Config) LockDir() string {
	if c.Lock.Dir != "" {
		return c.Lock.Dir
	}
	return c.State.Dir
}

// LogValue keeps secrets and DSNs out of logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", source.Redact(c.Source.Locator)),
		slog.String("destination", c.Destination),
		slog.Duration("interval", c.Interval),
		slog.Bool("force_refresh", c.ForceRefresh),
		slog.String("timezone", c.Timezone),
		slog.Any("formats", c.Artifacts.Formats),
		slog.Bool("catalog", c.Catalog.PostgresDSN != ""),
		slog.Bool("notify", c.Notify.Enabled),
		slog.Bool("metrics", c.Metrics.Enabled),
	)
}
