// Package config defines the application's configuration, its defaults, and
// the merge order: defaults, then the config file stored in the backup root,
// then explicitly set command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chainbak/chainbak/pkg/buildinfo"
	"github.com/chainbak/chainbak/pkg/plog"
	"github.com/chainbak/chainbak/pkg/util"
)

// ConfigFileName is the name of the configuration file kept in the backup root.
const ConfigFileName = "chainbak.config.yaml"

// EngineConfig describes how the external backup engine is invoked. The
// engine performs the actual data copy; chainbak only schedules it and
// interprets its result.
type EngineConfig struct {
	// Binary is the engine executable, e.g. "xtrabackup". Resolved via PATH
	// when not absolute.
	Binary string `yaml:"binary"`
	// DefaultsFile is handed to the engine verbatim as --defaults-file.
	// Credential parsing stays inside the engine; chainbak never reads it.
	DefaultsFile string `yaml:"defaultsFile,omitempty"`
	// ExtraArgs are appended to every engine invocation.
	ExtraArgs []string `yaml:"extraArgs,omitempty"`
	// HealthCheck is an optional command (argv form) run during preflight to
	// confirm the database service is reachable and credentials authenticate,
	// e.g. ["mysqladmin", "--defaults-file=/etc/my.cnf", "ping"].
	// When empty the check is skipped.
	HealthCheck []string `yaml:"healthCheck,omitempty"`
}

// RetentionPolicyConfig holds the two values that drive chain scheduling and
// pruning. Immutable for the duration of one invocation.
type RetentionPolicyConfig struct {
	// FullLifetimeSeconds is how long a full backup remains the current
	// target for incrementals before a new full is forced.
	FullLifetimeSeconds int `yaml:"fullLifetimeSeconds"`
	// KeepFullCount is how many full-backup generations, each worth
	// FullLifetimeSeconds, to retain before deletion. 0 means never prune.
	KeepFullCount int `yaml:"keepFullCount"`
}

// DiagnosticsConfig controls how engine output is preserved when a run fails.
type DiagnosticsConfig struct {
	// Format is the compression applied to preserved engine logs:
	// "gz", "zst" or "none".
	Format string `yaml:"format"`
	// Dir is the directory for preserved logs, relative to the backup root.
	Dir string `yaml:"dir"`
}

// RuntimeConfig carries per-run values that never come from the config file.
type RuntimeConfig struct {
	Root   string
	DryRun bool
}

// Config is the full application configuration.
type Config struct {
	Version     string                `yaml:"version"`
	LogLevel    string                `yaml:"logLevel"`
	Schedule    string                `yaml:"schedule,omitempty"`
	Engine      EngineConfig          `yaml:"engine"`
	Retention   RetentionPolicyConfig `yaml:"retention"`
	Diagnostics DiagnosticsConfig     `yaml:"diagnostics"`
	Runtime     RuntimeConfig         `yaml:"-"` // Never added to config file
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		Engine: EngineConfig{
			Binary: "xtrabackup",
		},
		Retention: RetentionPolicyConfig{
			FullLifetimeSeconds: 604800, // One week per full generation.
			KeepFullCount:       2,
		},
		Diagnostics: DiagnosticsConfig{
			Format: "gz",
			Dir:    "logs",
		},
	}
}

// Load reads the config file from the given backup root. A missing file is
// not an error; defaults are returned so a fresh root works out of the box.
func Load(root string) (Config, error) {
	cfg := NewDefault()

	expandedRoot, err := util.ExpandPath(root)
	if err != nil {
		return cfg, err
	}
	cfg.Runtime.Root = expandedRoot

	configPath := filepath.Join(expandedRoot, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			plog.Debug("No config file found in backup root, using defaults.", "path", configPath)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// WriteDefault writes a default config file into the given backup root,
// refusing to overwrite an existing one.
func WriteDefault(root string) (string, error) {
	expandedRoot, err := util.ExpandPath(root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(expandedRoot, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("failed to create backup root %s: %w", expandedRoot, err)
	}

	configPath := filepath.Join(expandedRoot, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("config file already exists at %s", configPath)
	}

	cfg := NewDefault()
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(configPath, data, util.UserWritableFilePerms); err != nil {
		return "", fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}
	return configPath, nil
}

// MergeConfigWithFlags overlays explicitly set command-line flags onto a
// loaded configuration. The flagMap contains only flags the user provided.
func MergeConfigWithFlags(cfg Config, flagMap map[string]interface{}) Config {
	if v, ok := flagMap["root"].(string); ok {
		// Root arrives pre-expanded from Load; expand again in case the flag
		// overrides a config-file run.
		if expanded, err := util.ExpandPath(v); err == nil {
			cfg.Runtime.Root = expanded
		} else {
			cfg.Runtime.Root = v
		}
	}
	if v, ok := flagMap["dry-run"].(bool); ok {
		cfg.Runtime.DryRun = v
	}
	if v, ok := flagMap["log-level"].(string); ok {
		cfg.LogLevel = v
	}
	if v, ok := flagMap["engine"].(string); ok {
		cfg.Engine.Binary = v
	}
	if v, ok := flagMap["defaults-file"].(string); ok {
		cfg.Engine.DefaultsFile = v
	}
	if v, ok := flagMap["full-lifetime"].(int); ok {
		cfg.Retention.FullLifetimeSeconds = v
	}
	if v, ok := flagMap["keep-full"].(int); ok {
		cfg.Retention.KeepFullCount = v
	}
	if v, ok := flagMap["schedule"].(string); ok {
		cfg.Schedule = v
	}
	return cfg
}

// Validate checks the final run configuration before any I/O happens.
func (c *Config) Validate() error {
	if c.Runtime.Root == "" {
		return fmt.Errorf("no backup root configured: the -root flag is required")
	}
	if c.Engine.Binary == "" {
		return fmt.Errorf("engine binary must not be empty")
	}
	if c.Retention.FullLifetimeSeconds <= 0 {
		return fmt.Errorf("retention.fullLifetimeSeconds must be > 0, got %d", c.Retention.FullLifetimeSeconds)
	}
	if c.Retention.KeepFullCount < 0 {
		return fmt.Errorf("retention.keepFullCount must be >= 0, got %d", c.Retention.KeepFullCount)
	}
	switch c.Diagnostics.Format {
	case "gz", "zst", "none":
	default:
		return fmt.Errorf("diagnostics.format must be 'gz', 'zst' or 'none', got %q", c.Diagnostics.Format)
	}
	if c.Diagnostics.Dir == "" {
		return fmt.Errorf("diagnostics.dir must not be empty")
	}
	return nil
}

// LogSummary logs the effective configuration for the run.
func (c *Config) LogSummary() {
	plog.Info("Run configuration",
		"root", c.Runtime.Root,
		"engine", c.Engine.Binary,
		"fullLifetimeSeconds", c.Retention.FullLifetimeSeconds,
		"keepFullCount", c.Retention.KeepFullCount,
		"dryRun", c.Runtime.DryRun,
	)
	if c.Retention.KeepFullCount == 0 {
		plog.Notice("keepFullCount is 0: retention pruning is disabled, backups are kept forever")
	}
}
