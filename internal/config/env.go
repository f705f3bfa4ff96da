package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration
const (
	EnvHome          = "RELAY_HOME"
	EnvLogLevel      = "RELAY_LOG_LEVEL"
	EnvIOBackend     = "RELAY_IO_BACKEND"
	EnvIODir         = "RELAY_IO_DIR"
	EnvS3Endpoint    = "RELAY_S3_ENDPOINT"
	EnvS3Bucket      = "RELAY_S3_BUCKET"
	EnvS3AccessKey   = "RELAY_S3_ACCESS_KEY"
	EnvS3SecretKey   = "RELAY_S3_SECRET_KEY"
	EnvS3Region      = "RELAY_S3_REGION"
	EnvS3Prefix      = "RELAY_S3_PREFIX"
	EnvS3UseSSL      = "RELAY_S3_USE_SSL"
	EnvClaudePath    = "RELAY_CLAUDE_PATH"
	EnvClaudeTimeout = "RELAY_CLAUDE_TIMEOUT"
	EnvHistoryDB     = "RELAY_HISTORY_DB"
)

// LoadDotEnv loads a .env file from dir into the process environment.
// Variables that are already set are not overwritten. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides configuration values from RELAY_* environment variables.
func (c *Config) ApplyEnv() error {
	mergeString(&c.LogLevel, os.Getenv(EnvLogLevel))
	mergeString(&c.IO.Backend, os.Getenv(EnvIOBackend))
	mergeString(&c.IO.Dir, os.Getenv(EnvIODir))
	mergeString(&c.IO.S3.Endpoint, os.Getenv(EnvS3Endpoint))
	mergeString(&c.IO.S3.Bucket, os.Getenv(EnvS3Bucket))
	mergeString(&c.IO.S3.AccessKey, os.Getenv(EnvS3AccessKey))
	mergeString(&c.IO.S3.SecretKey, os.Getenv(EnvS3SecretKey))
	mergeString(&c.IO.S3.Region, os.Getenv(EnvS3Region))
	mergeString(&c.IO.S3.Prefix, os.Getenv(EnvS3Prefix))
	mergeString(&c.Claude.Path, os.Getenv(EnvClaudePath))
	mergeString(&c.History.DBPath, os.Getenv(EnvHistoryDB))

	if v := os.Getenv(EnvS3UseSSL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvS3UseSSL, v, err)
		}
		c.IO.S3.UseSSL = b
	}
	if v := os.Getenv(EnvClaudeTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvClaudeTimeout, v, err)
		}
		c.Claude.Timeout = d
	}
	return nil
}

// Load resolves the full configuration for dir: defaults, then
// .relay/config.yaml, then .env and RELAY_* variables.
func Load(dir string) (*Config, error) {
	if err := LoadDotEnv(dir); err != nil {
		return nil, err
	}
	cfg, err := LoadConfigFromDir(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetRelayHome returns the relay state directory.
// Priority order:
//  1. RELAY_HOME environment variable (if set)
//  2. .relay under the current working directory
func GetRelayHome() (string, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return home, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, ".relay"), nil
}
