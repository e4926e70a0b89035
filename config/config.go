// CLAUDE:SUMMARY permitpack configuration: YAML file, defaults, PERMITPACK_* env overrides, fail-fast validation.
// Package config loads permitpack configuration.
//
// Sources, later wins: built-in defaults, YAML file, PERMITPACK_* environment
// variables. Load validates the result and returns *ConfigError on the first
// invalid field.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the top-level permitpack configuration.
type Config struct {
	CacheDir    string `yaml:"cache_dir"`
	OutputDir   string `yaml:"output_dir"`
	BasePages   int    `yaml:"base_pages"`
	CatalogFile string `yaml:"catalog_file"`
	Database    string `yaml:"database"`
	LogLevel    string `yaml:"log_level"` // debug | info | warn | error

	Retrieval RetrievalConfig `yaml:"retrieval"`
	Blob      BlobConfig      `yaml:"blob"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// RetrievalConfig controls network look-up of missing sheets.
type RetrievalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Concurrency   int           `yaml:"concurrency"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxCandidates int           `yaml:"max_candidates"`
	MaxBytes      int64         `yaml:"max_bytes"`
	UserAgent     string        `yaml:"user_agent"`
	Retries       int           `yaml:"retries"`
	Browser       BrowserConfig `yaml:"browser"`
	Engine        EngineConfig  `yaml:"engine"`
}

// BrowserConfig enables headless Chrome rendering of product pages.
type BrowserConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RemoteURL string `yaml:"remote_url"`
}

// EngineConfig describes the JSON search API.
type EngineConfig struct {
	Name        string            `yaml:"name"`
	URLTemplate string            `yaml:"url_template"` // must contain {query}
	ResultPath  string            `yaml:"result_path"`
	Fields      map[string]string `yaml:"fields"`
	Headers     map[string]string `yaml:"headers"`    // values expand ${ENV}
	APIKeyEnv   string            `yaml:"api_key_env"` // must be set in the environment
}

// BlobConfig selects where packages are published. An empty driver
// disables publishing.
type BlobConfig struct {
	Driver          string `yaml:"driver"` // "" | local | s3
	Dir             string `yaml:"dir"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// HTTPConfig configures the API server. Basic auth is enabled when
// Username is set.
type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path (optional when empty), applies defaults
// and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, &ConfigError{Field: "file", Reason: "not found: " + path}
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, &ConfigError{Field: "file", Reason: err.Error()}
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = "data/specs"
	}
	if c.OutputDir == "" {
		c.OutputDir = "data/output"
	}
	if c.BasePages == 0 {
		c.BasePages = 7
	}
	if c.Database == "" {
		c.Database = "data/permitpack.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	r := &c.Retrieval
	if r.Concurrency == 0 {
		r.Concurrency = 4
	}
	if r.Timeout == 0 {
		r.Timeout = 45 * time.Second
	}
	if r.MaxCandidates == 0 {
		r.MaxCandidates = 5
	}
	if r.MaxBytes == 0 {
		r.MaxBytes = 25 << 20
	}
	if r.Engine.Name == "" {
		r.Engine.Name = "default"
	}
	if c.Blob.Driver == "local" && c.Blob.Dir == "" {
		c.Blob.Dir = "data/blobs"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

func (c *Config) applyEnv() {
	c.CacheDir = env("PERMITPACK_CACHE_DIR", c.CacheDir)
	c.OutputDir = env("PERMITPACK_OUTPUT_DIR", c.OutputDir)
	c.CatalogFile = env("PERMITPACK_CATALOG_FILE", c.CatalogFile)
	c.Database = env("PERMITPACK_DATABASE", c.Database)
	c.LogLevel = env("PERMITPACK_LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("PERMITPACK_BASE_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BasePages = n
		}
	}
	if v := os.Getenv("PERMITPACK_RETRIEVAL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Retrieval.Enabled = b
		}
	}
	c.Blob.Driver = env("PERMITPACK_BLOB_DRIVER", c.Blob.Driver)
	c.Blob.Bucket = env("PERMITPACK_S3_BUCKET", c.Blob.Bucket)
	c.Blob.Endpoint = env("PERMITPACK_S3_ENDPOINT", c.Blob.Endpoint)
	c.Blob.Region = env("AWS_REGION", c.Blob.Region)
	c.Blob.AccessKeyID = env("AWS_ACCESS_KEY_ID", c.Blob.AccessKeyID)
	c.Blob.SecretAccessKey = env("AWS_SECRET_ACCESS_KEY", c.Blob.SecretAccessKey)
	c.HTTP.Addr = env("PERMITPACK_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.Username = env("PERMITPACK_HTTP_USERNAME", c.HTTP.Username)
	c.HTTP.PasswordHash = env("PERMITPACK_HTTP_PASSWORD_HASH", c.HTTP.PasswordHash)
}

// Validate checks the configuration and returns the first *ConfigError.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CacheDir) == "" {
		return &ConfigError{Field: "cache_dir", Reason: "required"}
	}
	if c.BasePages < 1 {
		return &ConfigError{Field: "base_pages", Reason: "must be at least 1"}
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		return &ConfigError{Field: "log_level", Reason: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}

	if r := c.Retrieval; r.Enabled {
		if r.Concurrency < 1 {
			return &ConfigError{Field: "retrieval.concurrency", Reason: "must be at least 1"}
		}
		if r.Timeout < 0 {
			return &ConfigError{Field: "retrieval.timeout", Reason: "must not be negative"}
		}
		if !strings.Contains(r.Engine.URLTemplate, "{query}") {
			return &ConfigError{Field: "retrieval.engine.url_template", Reason: "required and must contain {query}"}
		}
		if r.Engine.APIKeyEnv != "" && os.Getenv(r.Engine.APIKeyEnv) == "" {
			return &ConfigError{Field: "retrieval.engine.api_key_env", Reason: r.Engine.APIKeyEnv + " is not set"}
		}
	}

	switch c.Blob.Driver {
	case "":
	case "local":
		if c.Blob.Dir == "" {
			return &ConfigError{Field: "blob.dir", Reason: "required for local driver"}
		}
	case "s3":
		if c.Blob.Bucket == "" {
			return &ConfigError{Field: "blob.bucket", Reason: "required for s3 driver"}
		}
	default:
		return &ConfigError{Field: "blob.driver", Reason: fmt.Sprintf("unknown driver %q (want local or s3)", c.Blob.Driver)}
	}

	if c.HTTP.Username != "" {
		if _, err := bcrypt.Cost([]byte(c.HTTP.PasswordHash)); err != nil {
			return &ConfigError{Field: "http.password_hash", Reason: "must be a bcrypt hash when http.username is set"}
		}
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// NewLogger returns a JSON slog logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.SlogLevel()}))
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
