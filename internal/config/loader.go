package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/MHubAI/SlicerMHubRunner/internal/common/fsutil"
)

// CORS holds the opt-in CORS settings for browser-based clients.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Backend selects the container engine: "docker" or "udocker".
	Backend           string `json:"backend" yaml:"backend" toml:"backend"`
	DockerExecutable  string `json:"docker_executable" yaml:"docker_executable" toml:"docker_executable"`
	UDockerExecutable string `json:"udocker_executable" yaml:"udocker_executable" toml:"udocker_executable"`

	CatalogURL         string `json:"catalog_url" yaml:"catalog_url" toml:"catalog_url"`
	CatalogRefreshCron string `json:"catalog_refresh_cron" yaml:"catalog_refresh_cron" toml:"catalog_refresh_cron"`
	ImageRepo          string `json:"image_repo" yaml:"image_repo" toml:"image_repo"`

	// AutoPull is a pointer so an explicit false in the file survives the
	// flag merge; nil means unspecified.
	AutoPull                 *bool    `json:"auto_pull" yaml:"auto_pull" toml:"auto_pull"`
	KillGraceSeconds         int      `json:"kill_grace_seconds" yaml:"kill_grace_seconds" toml:"kill_grace_seconds"`
	RunTimeoutSeconds        int      `json:"run_timeout_seconds" yaml:"run_timeout_seconds" toml:"run_timeout_seconds"`
	AllowConcurrentSameInput *bool    `json:"allow_concurrent_same_input" yaml:"allow_concurrent_same_input" toml:"allow_concurrent_same_input"`
	DefaultArgs              []string `json:"default_args" yaml:"default_args" toml:"default_args"`

	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORS         CORS  `json:"cors" yaml:"cors" toml:"cors"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Normalize expands '~' in executable paths and validates the backend name.
func (c *Config) Normalize() error {
	switch c.Backend {
	case "", "docker", "udocker":
	default:
		return fmt.Errorf("unknown backend %q (want docker or udocker)", c.Backend)
	}
	var err error
	if c.DockerExecutable, err = fsutil.ExpandHome(c.DockerExecutable); err != nil {
		return fmt.Errorf("docker_executable: %w", err)
	}
	if c.UDockerExecutable, err = fsutil.ExpandHome(c.UDockerExecutable); err != nil {
		return fmt.Errorf("udocker_executable: %w", err)
	}
	if c.KillGraceSeconds < 0 {
		return fmt.Errorf("kill_grace_seconds must be >= 0, got %d", c.KillGraceSeconds)
	}
	if c.RunTimeoutSeconds < 0 {
		return fmt.Errorf("run_timeout_seconds must be >= 0, got %d", c.RunTimeoutSeconds)
	}
	return nil
}
