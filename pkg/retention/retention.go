// Package retention deletes full backup sets (and their dependent
// incrementals) that have outlived the retention window. The age threshold
// derives from the policy:
//
//	ageMinutes = fullLifetimeSeconds * keepFullCount / 60
//
// so the window always covers keepFullCount whole generations. A policy with
// keepFullCount == 0 disables pruning entirely instead of reproducing the
// zero-threshold arithmetic, which would delete every set immediately.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainbak/chainbak/pkg/chain"
	"github.com/chainbak/chainbak/pkg/planner"
	"github.com/chainbak/chainbak/pkg/plog"
)

// defaultDeleteWorkers bounds parallel set deletions. Deleting whole backup
// sets is I/O heavy; a small pool helps on network filesystems where latency
// dominates, without thrashing local disks.
const defaultDeleteWorkers = 4

// Pruner applies a retention policy to a backup root.
type Pruner struct {
	locator *chain.Locator
	policy  planner.Policy
	dryRun  bool
	workers int
}

// NewPruner creates a Pruner over the given locator and policy.
func NewPruner(locator *chain.Locator, policy planner.Policy, dryRun bool) *Pruner {
	return &Pruner{
		locator: locator,
		policy:  policy,
		dryRun:  dryRun,
		workers: defaultDeleteWorkers,
	}
}

// Prune deletes every full set whose age exceeds the retention threshold and
// returns the identifiers of the deleted sets. Deletion is transactional per
// set: a full set's incrementals are always removed no later than the full
// set itself, so no observer ever sees orphaned incrementals.
//
// Individual deletion failures do not abort the pass; they are aggregated
// into the returned error so the caller can report them without discarding
// the backup just taken.
func (p *Pruner) Prune(ctx context.Context, now time.Time) ([]string, error) {
	if p.policy.KeepFullCount == 0 {
		plog.Debug("Retention pruning disabled (keepFullCount is 0), keeping all sets")
		return nil, nil
	}

	thresholdMinutes := int64(p.policy.FullLifetime.Seconds()) * int64(p.policy.KeepFullCount) / 60

	fulls, err := p.locator.ListFulls()
	if err != nil {
		return nil, fmt.Errorf("failed to scan full sets for pruning: %w", err)
	}

	var expired []chain.FullSet
	for _, full := range fulls {
		ageMinutes := int64(now.Sub(full.CreatedAt) / time.Minute)
		if ageMinutes > thresholdMinutes {
			expired = append(expired, full)
		} else {
			plog.Debug("Retaining full set", "id", full.ID, "ageMinutes", ageMinutes, "thresholdMinutes", thresholdMinutes)
		}
	}

	if len(expired) == 0 {
		plog.Debug("No full sets exceed the retention threshold", "thresholdMinutes", thresholdMinutes)
		return nil, nil
	}

	plog.Info("Deleting expired full generations", "count", len(expired), "thresholdMinutes", thresholdMinutes)

	var (
		mu      sync.Mutex
		deleted []string
		failed  []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, full := range expired {
		full := full
		g.Go(func() error {
			// Stop starting new deletions once the context is canceled, but
			// never report cancellation as a pruning failure of a set.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := p.deleteSet(full); err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			deleted = append(deleted, full.ID)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return deleted, err
	}
	if len(failed) > 0 {
		return deleted, fmt.Errorf("failed to delete %d of %d expired sets: %w", len(failed), len(expired), errors.Join(failed...))
	}
	return deleted, nil
}

// deleteSet removes one full generation: the incremental subtree first, then
// the full set. If the incrementals cannot be removed, the full set is left
// in place so the chain never loses its root while deltas remain.
func (p *Pruner) deleteSet(full chain.FullSet) error {
	incrDir := p.locator.IncrDir(full.ID)

	if p.dryRun {
		plog.Notice("[DRY RUN] DELETE", "id", full.ID, "incrementals", incrDir, "full", full.Path)
		return nil
	}

	plog.Notice("DELETE", "id", full.ID, "incrementals", incrDir)
	if err := os.RemoveAll(incrDir); err != nil {
		return fmt.Errorf("failed to delete incrementals of set %s: %w", full.ID, err)
	}

	plog.Notice("DELETE", "id", full.ID, "full", full.Path)
	if err := os.RemoveAll(full.Path); err != nil {
		return fmt.Errorf("failed to delete full set %s: %w", full.ID, err)
	}

	return nil
}
