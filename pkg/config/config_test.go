package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	tempDir := t.TempDir()

	cfg, err := Load(tempDir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Engine.Binary != "xtrabackup" {
		t.Errorf("expected default engine binary, got %q", cfg.Engine.Binary)
	}
	if cfg.Retention.FullLifetimeSeconds != 604800 {
		t.Errorf("expected default fullLifetimeSeconds 604800, got %d", cfg.Retention.FullLifetimeSeconds)
	}
	if cfg.Runtime.Root != tempDir {
		t.Errorf("expected root %q, got %q", tempDir, cfg.Runtime.Root)
	}
}

func TestLoadParsesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	content := `
logLevel: debug
engine:
  binary: mariabackup
  defaultsFile: /etc/my.cnf
  healthCheck: ["mysqladmin", "ping"]
retention:
  fullLifetimeSeconds: 86400
  keepFullCount: 3
diagnostics:
  format: zst
  dir: engine-logs
`
	if err := os.WriteFile(filepath.Join(tempDir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tempDir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Engine.Binary != "mariabackup" {
		t.Errorf("expected engine binary mariabackup, got %q", cfg.Engine.Binary)
	}
	if cfg.Engine.DefaultsFile != "/etc/my.cnf" {
		t.Errorf("expected defaults file /etc/my.cnf, got %q", cfg.Engine.DefaultsFile)
	}
	if len(cfg.Engine.HealthCheck) != 2 || cfg.Engine.HealthCheck[0] != "mysqladmin" {
		t.Errorf("unexpected health check command: %v", cfg.Engine.HealthCheck)
	}
	if cfg.Retention.KeepFullCount != 3 {
		t.Errorf("expected keepFullCount 3, got %d", cfg.Retention.KeepFullCount)
	}
	if cfg.Diagnostics.Format != "zst" {
		t.Errorf("expected diagnostics format zst, got %q", cfg.Diagnostics.Format)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.LogLevel)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, ConfigFileName), []byte("engine: [not a mapping"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(tempDir); err == nil {
		t.Error("expected error for corrupt config file, got nil")
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	cfg := NewDefault()
	cfg.Runtime.Root = "/orig"

	merged := MergeConfigWithFlags(cfg, map[string]interface{}{
		"root":          "/new/root",
		"dry-run":       true,
		"engine":        "mariabackup",
		"full-lifetime": 3600,
		"keep-full":     5,
		"log-level":     "debug",
	})

	if merged.Runtime.Root != "/new/root" {
		t.Errorf("expected root /new/root, got %q", merged.Runtime.Root)
	}
	if !merged.Runtime.DryRun {
		t.Error("expected dry-run true")
	}
	if merged.Engine.Binary != "mariabackup" {
		t.Errorf("expected engine mariabackup, got %q", merged.Engine.Binary)
	}
	if merged.Retention.FullLifetimeSeconds != 3600 {
		t.Errorf("expected fullLifetimeSeconds 3600, got %d", merged.Retention.FullLifetimeSeconds)
	}
	if merged.Retention.KeepFullCount != 5 {
		t.Errorf("expected keepFullCount 5, got %d", merged.Retention.KeepFullCount)
	}

	// Unset flags must not clobber loaded values.
	unmerged := MergeConfigWithFlags(cfg, map[string]interface{}{})
	if unmerged.Runtime.Root != "/orig" {
		t.Errorf("merge without flags changed root to %q", unmerged.Runtime.Root)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		configMod func(*Config)
		wantErr   string
	}{
		{
			name:      "valid default",
			configMod: func(c *Config) {},
		},
		{
			name:      "missing root",
			configMod: func(c *Config) { c.Runtime.Root = "" },
			wantErr:   "backup root",
		},
		{
			name:      "missing engine binary",
			configMod: func(c *Config) { c.Engine.Binary = "" },
			wantErr:   "engine binary",
		},
		{
			name:      "zero lifetime",
			configMod: func(c *Config) { c.Retention.FullLifetimeSeconds = 0 },
			wantErr:   "fullLifetimeSeconds",
		},
		{
			name:      "negative keep count",
			configMod: func(c *Config) { c.Retention.KeepFullCount = -1 },
			wantErr:   "keepFullCount",
		},
		{
			name:      "bad diagnostics format",
			configMod: func(c *Config) { c.Diagnostics.Format = "lz4" },
			wantErr:   "diagnostics.format",
		},
		{
			name:      "keep count zero is allowed",
			configMod: func(c *Config) { c.Retention.KeepFullCount = 0 },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			cfg.Runtime.Root = "/var/backups/db"
			tc.configMod(&cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %q", tc.wantErr, err.Error())
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	tempDir := t.TempDir()

	path, err := WriteDefault(tempDir)
	if err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	if filepath.Base(path) != ConfigFileName {
		t.Errorf("unexpected config path %q", path)
	}

	// Round-trip through Load.
	cfg, err := Load(tempDir)
	if err != nil {
		t.Fatalf("Load() after WriteDefault failed: %v", err)
	}
	if cfg.Engine.Binary != "xtrabackup" {
		t.Errorf("round-trip lost engine binary, got %q", cfg.Engine.Binary)
	}

	// A second init must refuse to overwrite.
	if _, err := WriteDefault(tempDir); err == nil {
		t.Error("expected error when config file already exists")
	}
}
