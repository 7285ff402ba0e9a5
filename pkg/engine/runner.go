package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainbak/chainbak/pkg/buildinfo"
	"github.com/chainbak/chainbak/pkg/chain"
	"github.com/chainbak/chainbak/pkg/config"
	"github.com/chainbak/chainbak/pkg/lockfile"
	"github.com/chainbak/chainbak/pkg/metafile"
	"github.com/chainbak/chainbak/pkg/planner"
	"github.com/chainbak/chainbak/pkg/plog"
	"github.com/chainbak/chainbak/pkg/preflight"
	"github.com/chainbak/chainbak/pkg/util"
)

// Validator runs preflight checks before a run mutates anything.
type Validator interface {
	Run(ctx context.Context, root string, engineCfg config.EngineConfig, p *preflight.Plan) error
}

// Retainer applies the retention policy after a successful backup.
type Retainer interface {
	Prune(ctx context.Context, now time.Time) ([]string, error)
}

// Runner sequences one complete invocation: preflight, lock, locate, decide,
// invoke, verify, prune. It holds no state between invocations; the chain on
// disk is the single source of truth.
type Runner struct {
	validator Validator
	locator   *chain.Locator
	invoker   Invoker
	retainer  Retainer
	cfg       config.Config

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewRunner creates a Runner from its leaf workers.
func NewRunner(validator Validator, locator *chain.Locator, invoker Invoker, retainer Retainer, cfg config.Config) *Runner {
	return &Runner{
		validator: validator,
		locator:   locator,
		invoker:   invoker,
		retainer:  retainer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ExecuteBackup performs one backup run from start to finish. Engine and
// precondition failures are fatal; pruning failures are reported but never
// invalidate the backup just taken.
func (r *Runner) ExecuteBackup(ctx context.Context) error {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timestampUTC := r.now().UTC()
	root := r.cfg.Runtime.Root

	backupPlan := &preflight.Plan{
		RootAccessible:   true,
		RootWriteable:    true,
		EngineExecutable: true,
		ServiceReachable: true,
	}
	if err := r.validator.Run(ctx, root, r.cfg.Engine, backupPlan); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireRootLock(ctx)
	if err != nil {
		return err // A real error occurred during lock acquisition.
	}
	if releaseLock == nil {
		return nil // Lock was already held, exit gracefully.
	}
	defer releaseLock()

	latestFull, err := r.locator.LocateLatestFull()
	if err != nil {
		return fmt.Errorf("failed to locate latest full set: %w", err)
	}
	var latestIncr *chain.IncrSet
	if latestFull != nil {
		latestIncr, err = r.locator.LocateLatestIncremental(latestFull)
		if err != nil {
			return fmt.Errorf("failed to locate latest incremental: %w", err)
		}
	}

	policy := planner.PolicyFromConfig(r.cfg.Retention)
	decision := planner.Decide(latestFull, latestIncr, timestampUTC, policy)

	newID := timestampUTC.Format(chain.IDFormat)
	var targetDir string
	switch decision.Mode {
	case planner.Full:
		targetDir = r.locator.FullSetPath(newID)
	case planner.Incremental:
		targetDir = r.locator.IncrSetPath(decision.FullID, newID)
	default:
		return fmt.Errorf("internal error: unknown backup mode %d", decision.Mode)
	}

	plog.Notice("Backup decision", "mode", decision.Mode.String(), "id", newID, "base", decision.BaseID)

	if r.cfg.Runtime.DryRun {
		plog.Notice("[DRY RUN] Would invoke engine", "target", targetDir, "base", decision.BasePath)
		// Still show what retention would do; the pruner honors dry-run itself.
		if _, err := r.retainer.Prune(ctx, timestampUTC); err != nil {
			plog.Warn("Retention dry run reported errors", "error", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(targetDir), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to prepare set namespace: %w", err)
	}

	result, invokeErr := r.invoker.Invoke(ctx, decision.Mode, targetDir, decision.BasePath)
	if invokeErr != nil && !errors.Is(invokeErr, ErrAmbiguousSuccess) {
		r.preserveFailure(newID, result)
		r.discardIncompleteSet(targetDir)
		return fmt.Errorf("engine invocation failed: %w", invokeErr)
	}
	if errors.Is(invokeErr, ErrAmbiguousSuccess) {
		// Distinct, non-fatal: the run succeeded but the engine's declared
		// artifact path is unusable. The target directory we handed to the
		// engine remains authoritative; nothing is assumed from the output.
		plog.Warn("Ambiguous engine success", "error", invokeErr, "target", targetDir)
	} else if result.ArtifactPath != "" {
		plog.Debug("Engine reported artifact", "path", result.ArtifactPath)
	}

	// Only now does the set become visible to future locator scans. A run
	// that dies before this point leaves a directory the locator ignores.
	meta := &metafile.Content{
		Version:      buildinfo.Version,
		TimestampUTC: timestampUTC,
		Mode:         decision.Mode.String(),
		BaseRef:      decision.BaseID,
	}
	if err := metafile.Write(targetDir, meta); err != nil {
		return fmt.Errorf("backup completed but set could not be marked valid: %w", err)
	}
	plog.Notice("Backup set completed", "id", newID, "mode", decision.Mode.String())

	// Pruning runs after every successful backup, not only after fulls, so a
	// long run of incrementals still ages out old generations on schedule.
	deleted, pruneErr := r.retainer.Prune(ctx, timestampUTC)
	if pruneErr != nil {
		plog.Warn("Retention pruning reported errors", "error", pruneErr)
	}
	if len(deleted) > 0 {
		plog.Notice("Pruned expired full generations", "count", len(deleted), "ids", strings.Join(deleted, ", "))
	}

	return nil
}

// ExecutePrune applies retention without taking a backup. Unlike the pruning
// step of a backup run, failures here are fatal: the user asked for exactly
// this operation.
func (r *Runner) ExecutePrune(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timestampUTC := r.now().UTC()
	root := r.cfg.Runtime.Root

	prunePlan := &preflight.Plan{
		RootAccessible: true,
		RootWriteable:  true,
	}
	if err := r.validator.Run(ctx, root, r.cfg.Engine, prunePlan); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireRootLock(ctx)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil
	}
	defer releaseLock()

	plog.Info("Starting standalone prune", "root", root)
	deleted, err := r.retainer.Prune(ctx, timestampUTC)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	if len(deleted) > 0 {
		plog.Notice("Pruned expired full generations", "count", len(deleted), "ids", strings.Join(deleted, ", "))
	} else {
		plog.Info("No full generations exceed the retention threshold")
	}
	return nil
}

// acquireRootLock acquires the advisory lock on the backup root. It returns
// a release function that must be called to unlock, or (nil, nil) when
// another live run holds the lock and this run should exit gracefully.
func (r *Runner) acquireRootLock(ctx context.Context) (func(), error) {
	appID := fmt.Sprintf("%s:%s", buildinfo.Name, r.cfg.Runtime.Root)

	plog.Debug("Attempting to acquire lock", "path", r.cfg.Runtime.Root)
	lock, err := lockfile.Acquire(ctx, r.cfg.Runtime.Root, appID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("A run is already active for this backup root, skipping.", "details", lockErr.Error())
			return nil, nil // Graceful exit.
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")

	return lock.Release, nil
}

// preserveFailure writes the engine's output to the diagnostics directory.
// Best effort: diagnosis must never mask the original failure.
func (r *Runner) preserveFailure(runID string, result Result) {
	if result.Diagnostics == "" {
		return
	}
	logPath, err := preserveDiagnostics(r.cfg.Runtime.Root, r.cfg.Diagnostics, runID, result.Diagnostics)
	if err != nil {
		plog.Warn("Failed to preserve engine diagnostics", "error", err)
		return
	}
	plog.Error("Engine output preserved for diagnosis", "path", logPath)
}

// discardIncompleteSet removes the target directory of a failed engine run
// so it can never be selected as a latest set or as a future base. Even if
// removal fails, the directory carries no metafile and stays invisible to
// the locator.
func (r *Runner) discardIncompleteSet(targetDir string) {
	if err := os.RemoveAll(targetDir); err != nil {
		plog.Warn("Failed to remove incomplete set directory", "path", targetDir, "error", err)
	} else {
		plog.Notice("Removed incomplete set directory", "path", targetDir)
	}
}
