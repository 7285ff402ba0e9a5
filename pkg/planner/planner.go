// Package planner decides, for one invocation, whether the engine should
// produce a full or an incremental backup. The decision is a pure function
// of the chain state found on disk, the wall clock, and the retention
// policy: no scheduler state is persisted anywhere, so runs are idempotent
// and safe to trigger from any external scheduler.
package planner

import (
	"time"

	"github.com/chainbak/chainbak/pkg/chain"
	"github.com/chainbak/chainbak/pkg/config"
)

// Grace is a small fixed skew tolerance added to the full set's lifetime
// before a new full is forced. It absorbs clock skew between the directory
// modification time and the scheduler's wall clock, and the time the engine
// needs to populate a fresh set directory.
const Grace = 5 * time.Second

// Policy is the immutable retention configuration for one invocation.
type Policy struct {
	// FullLifetime is how long a full set remains the current target for
	// incrementals before a new chain is started.
	FullLifetime time.Duration
	// KeepFullCount is how many full generations, each worth FullLifetime,
	// to retain before pruning. 0 disables pruning.
	KeepFullCount int
}

// PolicyFromConfig converts the configuration's integer-seconds form.
func PolicyFromConfig(rc config.RetentionPolicyConfig) Policy {
	return Policy{
		FullLifetime:  time.Duration(rc.FullLifetimeSeconds) * time.Second,
		KeepFullCount: rc.KeepFullCount,
	}
}

// Decision is the planner's output: the backup mode and, for incrementals,
// the base directory the engine computes the delta against.
type Decision struct {
	Mode Mode
	// FullID is the owning full set's identifier. For a FULL decision it is
	// empty; the orchestrator assigns a fresh identifier to the new chain.
	FullID string
	// BasePath is the directory of the base set for an INCREMENTAL decision:
	// the latest incremental of the chain, or the full set itself when the
	// chain has no incrementals yet. Empty for FULL.
	BasePath string
	// BaseID identifies the base set, recorded in the new set's metadata.
	BaseID string
}

// Decide returns the backup decision for the given chain state and time.
//
// A FULL backup is requested when no valid full set exists, or when the
// current full generation has aged out:
//
//	now >= latestFull.CreatedAt + policy.FullLifetime + Grace
//
// Otherwise the decision is INCREMENTAL against the latest incremental of
// the chain, falling back to the full set as base when the chain is fresh.
// Identical inputs always yield identical output.
func Decide(latestFull *chain.FullSet, latestIncr *chain.IncrSet, now time.Time, policy Policy) Decision {
	if latestFull == nil {
		return Decision{Mode: Full}
	}

	expiry := latestFull.CreatedAt.Add(policy.FullLifetime + Grace)
	if !now.Before(expiry) {
		return Decision{Mode: Full}
	}

	if latestIncr != nil {
		return Decision{
			Mode:     Incremental,
			FullID:   latestFull.ID,
			BasePath: latestIncr.Path,
			BaseID:   latestIncr.ID,
		}
	}
	return Decision{
		Mode:     Incremental,
		FullID:   latestFull.ID,
		BasePath: latestFull.Path,
		BaseID:   latestFull.ID,
	}
}
