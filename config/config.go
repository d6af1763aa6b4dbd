// Package config provides configuration management for the caravel
// command-line tool. It supports loading configuration from a YAML file and
// environment variables, later sources overriding earlier ones.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caravelhq/caravel-cli/pkg/db"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultRedisAddr         = "localhost:6379"
	DefaultAIModel           = "gpt-4o-mini"
	DefaultAITimeout         = 20 * time.Second
	DefaultClassifyThreshold = 70
	DefaultRuleCacheTTL      = 5 * time.Minute
	DefaultOutputFormat      = OutputFormatText
	DefaultConfigDir         = ".caravel"
	DefaultConfigFile        = "config.yaml"
)

// RedisConfig holds queue broker connection settings.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`

	// Password is the Redis password. Usually left empty and taken from
	// the credential store or CARAVEL_REDIS_PASSWORD instead.
	Password string `yaml:"password,omitempty"`

	// DB is the Redis logical database number.
	DB int `yaml:"db,omitempty"`
}

// AIConfig holds the AI classification/extraction service settings.
type AIConfig struct {
	// Model is the chat completion model used for classification and
	// extraction.
	Model string `yaml:"model"`

	// BaseURL overrides the API endpoint, e.g. for a local gateway.
	BaseURL string `yaml:"base_url,omitempty"`

	// RequestTimeout bounds one model call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MinEntityConfidence drops extracted entities below this confidence
	// before aggregation.
	MinEntityConfidence int `yaml:"min_entity_confidence,omitempty"`
}

// AttachmentsConfig holds the read-only attachment text store settings. The
// store is S3-compatible and written by the OCR side; caravel only reads.
type AttachmentsConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

// IsConfigured reports whether the attachment store can be constructed.
func (c *AttachmentsConfig) IsConfigured() bool {
	return c != nil && c.Endpoint != "" && c.Bucket != ""
}

// ClassifyConfig tunes the document classifier.
type ClassifyConfig struct {
	// Threshold is the minimum pattern confidence for a decisive
	// pattern-stage hit; lower hits defer to the AI stage.
	Threshold int `yaml:"threshold"`

	// OwnDomains lists the forwarder's email domains. Senders on these
	// domains classify as outbound.
	OwnDomains []string `yaml:"own_domains,omitempty"`

	// ExtraCarrierDomains extends the built-in carrier domain table,
	// mapping sender domain to a carrier key.
	ExtraCarrierDomains map[string]string `yaml:"extra_carrier_domains,omitempty"`
}

// WorkersConfig tunes the background processing pools.
type WorkersConfig struct {
	// DocumentWorkers is the number of concurrent document processors.
	DocumentWorkers int `yaml:"document_workers,omitempty"`

	// RelinkWorkers is the number of concurrent relink sweepers.
	RelinkWorkers int `yaml:"relink_workers,omitempty"`

	// MetricsAddr is the listen address for the /metrics and /version
	// endpoints in worker mode. Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Config holds the full caravel configuration.
type Config struct {
	// Database holds PostgreSQL connection settings.
	Database *db.Config `yaml:"database"`

	// Redis holds queue broker settings.
	Redis RedisConfig `yaml:"redis"`

	// AI holds classification/extraction service settings.
	AI AIConfig `yaml:"ai"`

	// Attachments holds the attachment text store settings.
	Attachments AttachmentsConfig `yaml:"attachments"`

	// Classify tunes the classifier.
	Classify ClassifyConfig `yaml:"classify"`

	// Workers tunes the background pools.
	Workers WorkersConfig `yaml:"workers"`

	// RuleCacheTTL is the authority rule cache refresh interval.
	RuleCacheTTL time.Duration `yaml:"rule_cache_ttl"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Database: db.DefaultConfig(),
		Redis:    RedisConfig{Addr: DefaultRedisAddr},
		AI: AIConfig{
			Model:          DefaultAIModel,
			RequestTimeout: DefaultAITimeout,
		},
		Classify:     ClassifyConfig{Threshold: DefaultClassifyThreshold},
		RuleCacheTTL: DefaultRuleCacheTTL,
		OutputFormat: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $CARAVEL_CONFIG_DIR if set, otherwise ~/.caravel
func ConfigDir() (string, error) {
	if dir := os.Getenv("CARAVEL_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration. Sources are applied in order, later
// overriding earlier:
// 1. Default values
// 2. Config file (~/.caravel/config.yaml or $CARAVEL_CONFIG_DIR/config.yaml)
// 3. Environment variables (CARAVEL_*, DB_*)
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors Config with durations as strings for YAML round trips.
type fileConfig struct {
	Database     *db.Config        `yaml:"database"`
	Redis        RedisConfig       `yaml:"redis"`
	AI           fileAIConfig      `yaml:"ai"`
	Attachments  AttachmentsConfig `yaml:"attachments"`
	Classify     ClassifyConfig    `yaml:"classify"`
	Workers      WorkersConfig     `yaml:"workers"`
	RuleCacheTTL string            `yaml:"rule_cache_ttl,omitempty"`
	OutputFormat OutputFormat      `yaml:"output_format,omitempty"`
	Debug        bool              `yaml:"debug,omitempty"`
}

type fileAIConfig struct {
	Model               string `yaml:"model,omitempty"`
	BaseURL             string `yaml:"base_url,omitempty"`
	RequestTimeout      string `yaml:"request_timeout,omitempty"`
	MinEntityConfidence int    `yaml:"min_entity_confidence,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fileCfg fileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.Database != nil {
		cfg.Database = fileCfg.Database
	}
	if fileCfg.Redis.Addr != "" {
		cfg.Redis.Addr = fileCfg.Redis.Addr
	}
	if fileCfg.Redis.Password != "" {
		cfg.Redis.Password = fileCfg.Redis.Password
	}
	if fileCfg.Redis.DB != 0 {
		cfg.Redis.DB = fileCfg.Redis.DB
	}
	if fileCfg.AI.Model != "" {
		cfg.AI.Model = fileCfg.AI.Model
	}
	if fileCfg.AI.BaseURL != "" {
		cfg.AI.BaseURL = fileCfg.AI.BaseURL
	}
	if fileCfg.AI.RequestTimeout != "" {
		timeout, err := time.ParseDuration(fileCfg.AI.RequestTimeout)
		if err != nil {
			return fmt.Errorf("parsing ai.request_timeout: %w", err)
		}
		cfg.AI.RequestTimeout = timeout
	}
	if fileCfg.AI.MinEntityConfidence != 0 {
		cfg.AI.MinEntityConfidence = fileCfg.AI.MinEntityConfidence
	}
	if fileCfg.Attachments.Endpoint != "" {
		cfg.Attachments = fileCfg.Attachments
	}
	if fileCfg.Classify.Threshold != 0 {
		cfg.Classify.Threshold = fileCfg.Classify.Threshold
	}
	if len(fileCfg.Classify.OwnDomains) > 0 {
		cfg.Classify.OwnDomains = fileCfg.Classify.OwnDomains
	}
	if len(fileCfg.Classify.ExtraCarrierDomains) > 0 {
		cfg.Classify.ExtraCarrierDomains = fileCfg.Classify.ExtraCarrierDomains
	}
	if fileCfg.Workers.DocumentWorkers != 0 {
		cfg.Workers.DocumentWorkers = fileCfg.Workers.DocumentWorkers
	}
	if fileCfg.Workers.RelinkWorkers != 0 {
		cfg.Workers.RelinkWorkers = fileCfg.Workers.RelinkWorkers
	}
	if fileCfg.Workers.MetricsAddr != "" {
		cfg.Workers.MetricsAddr = fileCfg.Workers.MetricsAddr
	}
	if fileCfg.RuleCacheTTL != "" {
		ttl, err := time.ParseDuration(fileCfg.RuleCacheTTL)
		if err != nil {
			return fmt.Errorf("parsing rule_cache_ttl: %w", err)
		}
		cfg.RuleCacheTTL = ttl
	}
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	cfg.Debug = cfg.Debug || fileCfg.Debug

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
// Database settings follow the shared DB_* convention from pkg/db.
func loadFromEnv(cfg *Config) {
	cfg.Database.ApplyEnv()

	if v := os.Getenv("CARAVEL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CARAVEL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CARAVEL_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	if v := os.Getenv("CARAVEL_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("CARAVEL_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("CARAVEL_AI_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.AI.RequestTimeout = timeout
		}
	}

	if v := os.Getenv("CARAVEL_ATTACHMENTS_ENDPOINT"); v != "" {
		cfg.Attachments.Endpoint = v
	}
	if v := os.Getenv("CARAVEL_ATTACHMENTS_ACCESS_KEY"); v != "" {
		cfg.Attachments.AccessKey = v
	}
	if v := os.Getenv("CARAVEL_ATTACHMENTS_SECRET_KEY"); v != "" {
		cfg.Attachments.SecretKey = v
	}
	if v := os.Getenv("CARAVEL_ATTACHMENTS_BUCKET"); v != "" {
		cfg.Attachments.Bucket = v
	}
	if v := os.Getenv("CARAVEL_ATTACHMENTS_USE_SSL"); v == "true" || v == "1" {
		cfg.Attachments.UseSSL = true
	}

	if v := os.Getenv("CARAVEL_CLASSIFY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Classify.Threshold = n
		}
	}
	if v := os.Getenv("CARAVEL_OWN_DOMAINS"); v != "" {
		cfg.Classify.OwnDomains = splitAndTrim(v)
	}

	if v := os.Getenv("CARAVEL_RULE_CACHE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.RuleCacheTTL = ttl
		}
	}

	if v := os.Getenv("CARAVEL_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("CARAVEL_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.AI.RequestTimeout <= 0 {
		return fmt.Errorf("ai.request_timeout must be positive")
	}

	if c.Classify.Threshold < 0 || c.Classify.Threshold > 100 {
		return fmt.Errorf("classify.threshold must be between 0 and 100")
	}

	if c.RuleCacheTTL <= 0 {
		return fmt.Errorf("rule_cache_ttl must be positive")
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	fileCfg := fileConfig{
		Database:    cfg.Database,
		Redis:       cfg.Redis,
		Attachments: cfg.Attachments,
		Classify:    cfg.Classify,
		Workers:     cfg.Workers,
		AI: fileAIConfig{
			Model:               cfg.AI.Model,
			BaseURL:             cfg.AI.BaseURL,
			RequestTimeout:      cfg.AI.RequestTimeout.String(),
			MinEntityConfidence: cfg.AI.MinEntityConfidence,
		},
		RuleCacheTTL: cfg.RuleCacheTTL.String(),
		OutputFormat: cfg.OutputFormat,
		Debug:        cfg.Debug,
	}

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}
