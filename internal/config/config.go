// Package config loads relay configuration from .relay/config.yaml, the
// environment and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/relay/internal/iostore"
	"gopkg.in/yaml.v3"
)

// Storage backends for task input/output documents
const (
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// S3Config configures the S3-compatible object store backend
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ObjectConfig converts the section into iostore settings.
func (s S3Config) ObjectConfig() iostore.ObjectConfig {
	return iostore.ObjectConfig{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Region:    s.Region,
		Bucket:    s.Bucket,
		Prefix:    s.Prefix,
		UseSSL:    s.UseSSL,
	}
}

// IOConfig controls where task input/output documents are persisted
type IOConfig struct {
	// Backend is one of file, s3, memory
	Backend string `yaml:"backend"`

	// Dir is the root directory for the file backend
	Dir string `yaml:"dir"`

	S3 S3Config `yaml:"s3"`
}

// ClaudeConfig configures the delegated-agent transport
type ClaudeConfig struct {
	// Path is the claude CLI binary
	Path string `yaml:"path"`

	// Timeout bounds a single invocation (0 = no timeout)
	Timeout time.Duration `yaml:"timeout"`

	// SystemPrompt overrides the default system prompt
	SystemPrompt string `yaml:"system_prompt"`

	// MaxRateLimitWait is the longest rate limit wait before giving up
	MaxRateLimitWait time.Duration `yaml:"max_rate_limit_wait"`

	// BypassPermissions runs the agent with --permission-mode bypassPermissions
	BypassPermissions bool `yaml:"bypass_permissions"`
}

// CommandConfig configures the command worker
type CommandConfig struct {
	// Dir is the working directory for worker commands (empty = current)
	Dir string `yaml:"dir"`

	// Timeout bounds a single command (0 = no timeout)
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig configures the run history database
type HistoryConfig struct {
	// Enabled records every run in the history database
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the SQLite database
	DBPath string `yaml:"db_path"`
}

// Config represents relay configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs will be written
	LogDir string `yaml:"log_dir"`

	IO      IOConfig      `yaml:"io"`
	Claude  ClaudeConfig  `yaml:"claude"`
	Command CommandConfig `yaml:"command"`
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   ".relay/logs",
		IO: IOConfig{
			Backend: BackendFile,
			Dir:     ".relay/io",
			S3: S3Config{
				Region: "us-east-1",
				UseSSL: true,
			},
		},
		Claude: ClaudeConfig{
			Path:             "claude",
			Timeout:          30 * time.Minute,
			MaxRateLimitWait: 15 * time.Minute,
		},
		Command: CommandConfig{
			Timeout: 10 * time.Minute,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  ".relay/history.db",
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in YAML
	type yamlConfig struct {
		LogLevel string `yaml:"log_level"`
		LogDir   string `yaml:"log_dir"`
		IO       struct {
			Backend string   `yaml:"backend"`
			Dir     string   `yaml:"dir"`
			S3      S3Config `yaml:"s3"`
		} `yaml:"io"`
		Claude struct {
			Path              string `yaml:"path"`
			Timeout           string `yaml:"timeout"`
			SystemPrompt      string `yaml:"system_prompt"`
			MaxRateLimitWait  string `yaml:"max_rate_limit_wait"`
			BypassPermissions bool   `yaml:"bypass_permissions"`
		} `yaml:"claude"`
		Command struct {
			Dir     string `yaml:"dir"`
			Timeout string `yaml:"timeout"`
		} `yaml:"command"`
		History HistoryConfig `yaml:"history"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Used to tell an explicit false or empty value from an absent key
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}

	if yamlCfg.IO.Backend != "" {
		cfg.IO.Backend = yamlCfg.IO.Backend
	}
	if yamlCfg.IO.Dir != "" {
		cfg.IO.Dir = yamlCfg.IO.Dir
	}
	s3 := yamlCfg.IO.S3
	s3Map := section(section(rawMap, "io"), "s3")
	mergeString(&cfg.IO.S3.Endpoint, s3.Endpoint)
	mergeString(&cfg.IO.S3.Bucket, s3.Bucket)
	mergeString(&cfg.IO.S3.AccessKey, s3.AccessKey)
	mergeString(&cfg.IO.S3.SecretKey, s3.SecretKey)
	mergeString(&cfg.IO.S3.Region, s3.Region)
	mergeString(&cfg.IO.S3.Prefix, s3.Prefix)
	if _, exists := s3Map["use_ssl"]; exists {
		cfg.IO.S3.UseSSL = s3.UseSSL
	}

	mergeString(&cfg.Claude.Path, yamlCfg.Claude.Path)
	mergeString(&cfg.Claude.SystemPrompt, yamlCfg.Claude.SystemPrompt)
	if err := mergeDuration(&cfg.Claude.Timeout, yamlCfg.Claude.Timeout, "claude.timeout"); err != nil {
		return nil, err
	}
	if err := mergeDuration(&cfg.Claude.MaxRateLimitWait, yamlCfg.Claude.MaxRateLimitWait, "claude.max_rate_limit_wait"); err != nil {
		return nil, err
	}
	if _, exists := section(rawMap, "claude")["bypass_permissions"]; exists {
		cfg.Claude.BypassPermissions = yamlCfg.Claude.BypassPermissions
	}

	mergeString(&cfg.Command.Dir, yamlCfg.Command.Dir)
	if err := mergeDuration(&cfg.Command.Timeout, yamlCfg.Command.Timeout, "command.timeout"); err != nil {
		return nil, err
	}

	historyMap := section(rawMap, "history")
	if _, exists := historyMap["enabled"]; exists {
		cfg.History.Enabled = yamlCfg.History.Enabled
	}
	if _, exists := historyMap["db_path"]; exists {
		// Explicitly set db_path, even if empty string
		cfg.History.DBPath = yamlCfg.History.DBPath
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .relay/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".relay", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel *string, logDir *string, ioBackend *string, ioDir *string) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if ioBackend != nil {
		c.IO.Backend = *ioBackend
	}
	if ioDir != nil {
		c.IO.Dir = *ioDir
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	switch c.IO.Backend {
	case BackendFile:
		if c.IO.Dir == "" {
			return fmt.Errorf("io.dir cannot be empty when io.backend is %q", BackendFile)
		}
	case BackendS3:
		if err := c.IO.S3.ObjectConfig().Validate(); err != nil {
			return fmt.Errorf("io.s3: %w", err)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid io.backend %q, must be one of: file, s3, memory", c.IO.Backend)
	}

	if c.Claude.Path == "" {
		return fmt.Errorf("claude.path cannot be empty")
	}
	if c.Claude.Timeout < 0 {
		return fmt.Errorf("claude.timeout must be >= 0, got %v", c.Claude.Timeout)
	}
	if c.Claude.MaxRateLimitWait < 0 {
		return fmt.Errorf("claude.max_rate_limit_wait must be >= 0, got %v", c.Claude.MaxRateLimitWait)
	}
	if c.Command.Timeout < 0 {
		return fmt.Errorf("command.timeout must be >= 0, got %v", c.Command.Timeout)
	}

	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path cannot be empty when history is enabled")
	}

	return nil
}

func section(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]interface{})
	return sub
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v, key string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
