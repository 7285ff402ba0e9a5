// Package preflight validates the environment before a run mutates anything:
// the backup root must be accessible and writable, the engine binary must be
// executable, and the database service must answer a health check. Any
// failure here is fatal for the run and is reported before any I/O on the
// chain happens.
package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/chainbak/chainbak/pkg/config"
	"github.com/chainbak/chainbak/pkg/plog"
	"github.com/chainbak/chainbak/pkg/util"
)

// Plan selects which checks a run needs. A standalone prune, for example,
// never invokes the engine and skips the engine and service checks.
type Plan struct {
	RootAccessible   bool
	RootWriteable    bool
	EngineExecutable bool
	ServiceReachable bool
}

// commandExecutor matches exec.CommandContext and is swapped out in tests.
type commandExecutor func(ctx context.Context, name string, args ...string) *exec.Cmd

// Validator runs preflight checks.
type Validator struct {
	commandExecutor commandExecutor
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{commandExecutor: exec.CommandContext}
}

// Run executes the checks selected by the plan, in order from cheapest to
// most intrusive. The first failure aborts.
func (v *Validator) Run(ctx context.Context, root string, engineCfg config.EngineConfig, p *Plan) error {
	if p.RootAccessible {
		if err := CheckBackupRootAccessible(root); err != nil {
			return err
		}
	}
	if p.RootWriteable {
		if err := CheckBackupRootWritable(root); err != nil {
			return err
		}
	}
	if p.EngineExecutable {
		if err := CheckEngineExecutable(engineCfg.Binary); err != nil {
			return err
		}
	}
	if p.ServiceReachable {
		if err := v.checkServiceReachable(ctx, engineCfg.HealthCheck); err != nil {
			return err
		}
	}
	return nil
}

// CheckBackupRootAccessible verifies the backup root either exists as a
// directory or can be created under an existing, accessible parent. It gives
// friendlier errors than letting os.MkdirAll fail later.
func CheckBackupRootAccessible(root string) error {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		// The root doesn't exist yet; its immediate parent must.
		parentDir := filepath.Dir(root)
		if _, err := os.Stat(parentDir); os.IsNotExist(err) {
			return fmt.Errorf("backup root and its parent directory do not exist: %s", parentDir)
		} else if err != nil {
			return fmt.Errorf("cannot access parent directory %s: %w", parentDir, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access backup root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("backup root exists but is not a directory: %s", root)
	}
	return nil
}

// CheckBackupRootWritable ensures the backup root can be created and is
// writable by performing an actual write probe.
func CheckBackupRootWritable(root string) error {
	if err := os.MkdirAll(root, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create backup root %s: %w", root, err)
	}

	tempFile := filepath.Join(root, ".chainbak-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("backup root %s is not writable: %w", root, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// CheckEngineExecutable resolves the engine binary (via PATH when it is not
// an explicit path) and verifies this process may execute it.
func CheckEngineExecutable(binary string) error {
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("backup engine binary %q not found or not executable: %w", binary, err)
	}
	if err := checkExecutableBit(resolved); err != nil {
		return fmt.Errorf("backup engine binary %q is not executable: %w", resolved, err)
	}
	plog.Debug("Engine binary resolved", "path", resolved)
	return nil
}

// checkServiceReachable runs the configured health check command to confirm
// the database service answers and credentials authenticate. An empty
// command skips the check; the engine will surface connectivity problems
// itself, just later and more expensively.
func (v *Validator) checkServiceReachable(ctx context.Context, healthCheck []string) error {
	if len(healthCheck) == 0 {
		plog.Debug("No health check configured, skipping service reachability check")
		return nil
	}

	cmd := v.commandExecutor(ctx, healthCheck[0], healthCheck[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("database service health check failed: %w (output: %s)", err, string(out))
	}
	plog.Debug("Database service health check passed")
	return nil
}
