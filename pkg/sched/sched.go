// Package sched runs a job on a cron schedule until the context is
// cancelled. It exists for hosts without a system scheduler; on machines with
// cron or systemd timers, running one-shot invocations from there is the
// recommended setup since the chain state on disk makes every run idempotent.
package sched

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/chainbak/chainbak/pkg/plog"
)

// Job is one scheduled unit of work. Errors are logged, never fatal: a failed
// run must not take the scheduler down with it.
type Job func(ctx context.Context) error

// ValidateSpec checks a cron expression without starting a scheduler, so
// configuration errors surface at startup instead of at the first tick.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// Run executes the job on the given standard cron schedule until ctx is
// cancelled. Job runs are serialized: the cron library queues ticks while a
// run is in flight, and the root lock makes overlap harmless regardless.
// Run blocks; it returns ctx.Err() after the current run (if any) drains.
func Run(ctx context.Context, spec string, job Job) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := job(ctx); err != nil {
			plog.Error("Scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register scheduled job: %w", err)
	}

	plog.Notice("Scheduler started", "schedule", spec)
	c.Start()

	<-ctx.Done()
	plog.Info("Scheduler stopping, waiting for the current run to finish")

	// Stop prevents new ticks and returns a context that is done once all
	// in-flight jobs have completed.
	<-c.Stop().Done()
	plog.Info("Scheduler stopped")
	return ctx.Err()
}
