// Package config loads shiori configuration from a YAML file overlaid with SHIORI_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv and Load.
const EnvPrefix = "SHIORI"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watch     WatchConfig     `yaml:"watch"`
	S3        S3Config        `yaml:"s3"`
	Sentry    SentryConfig    `yaml:"sentry"`

	// Env is the raw environment overlay. It is never written by Save.
	Env EnvConfig `yaml:"-"`
}

// EnvConfig carries secrets and deployment knobs from the environment.
type EnvConfig struct {
	Debug             bool   `envconfig:"DEBUG"`
	Port              int    `envconfig:"PORT"`
	StorageBackend    string `envconfig:"STORAGE_BACKEND"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER"`
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `envconfig:"OPENAI_BASE_URL"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3Region          string `envconfig:"S3_REGION"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	SentryDSN         string `envconfig:"SENTRY_DSN"`
	SentryEnvironment string `envconfig:"SENTRY_ENVIRONMENT"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the store backend and where it keeps its data.
type StorageConfig struct {
	Backend         string `yaml:"backend"`
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	VectorIndexType string `yaml:"vector_index_type"`
	DatabaseURL     string `yaml:"database_url,omitempty"`
}

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	ModelPath         string  `yaml:"model_path"`
	Model             string  `yaml:"model,omitempty"`
	BaseURL           string  `yaml:"base_url,omitempty"`
	APIKey            string  `yaml:"-"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// SearchConfig holds search, chunking and consolidation settings. Nil thresholds and padding
// take their defaults in ApplyDefaults.
type SearchConfig struct {
	K                 int      `yaml:"k"`
	ChunkThreshold    *float64 `yaml:"chunk_threshold"`
	KeywordThreshold  *float64 `yaml:"keyword_threshold"`
	FulltextThreshold *float64 `yaml:"fulltext_threshold"`
	TFThreshold       *float64 `yaml:"tf_threshold"`
	Candidates        int      `yaml:"candidates"`
	Padding           *int     `yaml:"padding"`
	Delimiter         string   `yaml:"delimiter,omitempty"`
}

// IngestConfig tunes batch ingestion.
type IngestConfig struct {
	Workers      int           `yaml:"workers"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	User         string        `yaml:"user"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// S3Config configures s3:// document URIs.
type S3Config struct {
	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN              string  `yaml:"-"`
	Environment      string  `yaml:"environment,omitempty"`
	TracesSampleRate float64 `yaml:"traces_sample_rate,omitempty"`
}

// Load reads and parses the config file at path, overlays the environment, applies defaults,
// and expands paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	expandPaths(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// LoadFromEnv builds a config from defaults and the environment alone. Relative paths resolve
// against the working directory.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	expandPaths(&cfg, wd)
	return &cfg, nil
}

// Save writes the config to path. Secrets from the environment are not written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnv loads a .env file when present, then copies every set SHIORI_* variable over cfg.
func applyEnv(cfg *Config) error {
	_ = godotenv.Load()

	var env EnvConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.Env = env

	if env.Debug {
		cfg.Debug = true
	}
	if env.Port != 0 {
		cfg.Server.Port = env.Port
	}
	override(&cfg.Storage.Backend, env.StorageBackend)
	override(&cfg.Storage.DatabaseURL, env.DatabaseURL)
	override(&cfg.Embedding.Provider, env.EmbeddingProvider)
	override(&cfg.Embedding.APIKey, env.OpenAIAPIKey)
	override(&cfg.Embedding.BaseURL, env.OpenAIBaseURL)
	override(&cfg.S3.Endpoint, env.S3Endpoint)
	override(&cfg.S3.Region, env.S3Region)
	override(&cfg.S3.AccessKeyID, env.S3AccessKeyID)
	override(&cfg.S3.SecretAccessKey, env.S3SecretAccessKey)
	override(&cfg.Sentry.DSN, env.SentryDSN)
	override(&cfg.Sentry.Environment, env.SentryEnvironment)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. ":memory:" and "" are kept.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
