// Package cmd contains the handlers behind the chainbak command-line
// actions. Each handler loads and merges configuration, assembles the runner
// from its leaf workers, and executes one operation.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/chainbak/chainbak/pkg/buildinfo"
	"github.com/chainbak/chainbak/pkg/chain"
	"github.com/chainbak/chainbak/pkg/config"
	"github.com/chainbak/chainbak/pkg/engine"
	"github.com/chainbak/chainbak/pkg/planner"
	"github.com/chainbak/chainbak/pkg/plog"
	"github.com/chainbak/chainbak/pkg/preflight"
	"github.com/chainbak/chainbak/pkg/retention"
)

// resolveRunConfig loads the config file from the backup root, overlays the
// explicitly set flags, and validates the result. The root flag is mandatory
// for every operation that touches a chain.
func resolveRunConfig(flagMap map[string]interface{}) (config.Config, error) {
	root, ok := flagMap["root"].(string)
	if !ok || root == "" {
		return config.Config{}, fmt.Errorf("the -root flag is required")
	}

	loadedConfig, err := config.Load(root)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from backup root: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(loadedConfig, flagMap)

	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	return runConfig, nil
}

// newRunner assembles the runner from its leaf workers.
func newRunner(runConfig config.Config) *engine.Runner {
	locator := chain.NewLocator(runConfig.Runtime.Root)
	return engine.NewRunner(
		preflight.NewValidator(),
		locator,
		engine.NewAdapter(runConfig.Engine),
		retention.NewPruner(
			locator,
			planner.PolicyFromConfig(runConfig.Retention),
			runConfig.Runtime.DryRun,
		),
		runConfig,
	)
}

// RunBackup handles the logic for the main backup execution.
func RunBackup(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := resolveRunConfig(flagMap)
	if err != nil {
		return err
	}

	// Log the Summary
	runConfig.LogSummary()

	runner := newRunner(runConfig)

	startTime := time.Now()
	err = runner.ExecuteBackup(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}
