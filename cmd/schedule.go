package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainbak/chainbak/pkg/buildinfo"
	"github.com/chainbak/chainbak/pkg/plog"
	"github.com/chainbak/chainbak/pkg/sched"
)

// RunSchedule runs backups on a cron schedule until interrupted. The
// configuration is re-resolved on every tick so edits to the config file in
// the backup root take effect without a restart.
func RunSchedule(ctx context.Context, flagMap map[string]interface{}) error {
	// Resolve once up front to fail fast on bad flags or config, and to know
	// the schedule expression.
	runConfig, err := resolveRunConfig(flagMap)
	if err != nil {
		return err
	}
	if runConfig.Schedule == "" {
		return fmt.Errorf("no schedule configured: pass -schedule or set it in the config file")
	}
	if err := sched.ValidateSpec(runConfig.Schedule); err != nil {
		return err
	}

	runConfig.LogSummary()

	err = sched.Run(ctx, runConfig.Schedule, func(ctx context.Context) error {
		plog.Info("Scheduled backup run starting")
		return RunBackup(ctx, flagMap)
	})
	if errors.Is(err, context.Canceled) {
		// An interrupt is the normal way to stop the scheduler.
		plog.Info(buildinfo.Name + " scheduler shut down.")
		return nil
	}
	return err
}
