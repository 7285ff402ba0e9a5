package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chainbak/chainbak/pkg/buildinfo"
	"github.com/chainbak/chainbak/pkg/plog"
)

// RunPrune handles the logic for the standalone prune command.
func RunPrune(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := resolveRunConfig(flagMap)
	if err != nil {
		return err
	}

	// NOTE: the root needs to exist for a prune run; there is nothing to
	// prune in a root that was never backed up into.
	if _, err := os.Stat(runConfig.Runtime.Root); os.IsNotExist(err) {
		return fmt.Errorf("backup root '%s' does not exist", runConfig.Runtime.Root)
	}

	runConfig.LogSummary()

	runner := newRunner(runConfig)

	startTime := time.Now()
	err = runner.ExecutePrune(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" prune finished successfully.", "duration", duration)
	return nil
}
