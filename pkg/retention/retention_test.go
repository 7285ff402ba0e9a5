package retention_test

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/chainbak/chainbak/pkg/chain"
	"github.com/chainbak/chainbak/pkg/metafile"
	"github.com/chainbak/chainbak/pkg/planner"
	"github.com/chainbak/chainbak/pkg/retention"
)

// weekPolicy: fullLifetimeSeconds=604800, keepFullCount=1 -> threshold 10080 minutes.
func weekPolicy(keep int) planner.Policy {
	return planner.Policy{
		FullLifetime:  604800 * time.Second,
		KeepFullCount: keep,
	}
}

// mkFullSet creates a valid full set whose directory modtime lies ageMinutes
// in the past, with optional incrementals.
func mkFullSet(t *testing.T, l *chain.Locator, id string, now time.Time, ageMinutes int, incrIDs ...string) {
	t.Helper()
	path := l.FullSetPath(id)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	if err := metafile.Write(path, &metafile.Content{Version: "test", TimestampUTC: now.UTC(), Mode: "full"}); err != nil {
		t.Fatal(err)
	}
	for _, incrID := range incrIDs {
		incrPath := l.IncrSetPath(id, incrID)
		if err := os.MkdirAll(incrPath, 0755); err != nil {
			t.Fatal(err)
		}
		if err := metafile.Write(incrPath, &metafile.Content{Version: "test", TimestampUTC: now.UTC(), Mode: "incremental", BaseRef: id}); err != nil {
			t.Fatal(err)
		}
	}
	// The metafile write bumps the directory modtime; set the age last.
	modTime := now.Add(-time.Duration(ageMinutes) * time.Minute)
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPruneThresholdBoundary(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		ageMinutes int
		wantKept   bool
	}{
		{"just past threshold", 10081, false},
		{"exactly at threshold", 10080, true},
		{"just inside threshold", 10079, true},
		{"fresh set", 1, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := chain.NewLocator(t.TempDir())
			mkFullSet(t, l, "2026-01-01_02-00-00", now, tc.ageMinutes)

			p := retention.NewPruner(l, weekPolicy(1), false)
			deleted, err := p.Prune(context.Background(), now)
			if err != nil {
				t.Fatalf("Prune() failed: %v", err)
			}

			kept := exists(l.FullSetPath("2026-01-01_02-00-00"))
			if kept != tc.wantKept {
				t.Errorf("age %d min: kept=%v, want %v", tc.ageMinutes, kept, tc.wantKept)
			}
			if tc.wantKept && len(deleted) != 0 {
				t.Errorf("expected no deletions, got %v", deleted)
			}
			if !tc.wantKept && !slices.Contains(deleted, "2026-01-01_02-00-00") {
				t.Errorf("expected deleted list to contain the set, got %v", deleted)
			}
		})
	}
}

func TestPruneRemovesIncrementalsWithFullSet(t *testing.T) {
	now := time.Now()
	l := chain.NewLocator(t.TempDir())

	mkFullSet(t, l, "2026-01-01_02-00-00", now, 20000,
		"2026-01-02_02-00-00", "2026-01-03_02-00-00")
	mkFullSet(t, l, "2026-02-01_02-00-00", now, 100,
		"2026-02-02_02-00-00")

	p := retention.NewPruner(l, weekPolicy(1), false)
	deleted, err := p.Prune(context.Background(), now)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}

	if len(deleted) != 1 || deleted[0] != "2026-01-01_02-00-00" {
		t.Fatalf("expected exactly the expired set deleted, got %v", deleted)
	}

	// The expired generation must be gone entirely: full set and incrementals.
	if exists(l.FullSetPath("2026-01-01_02-00-00")) {
		t.Error("expired full set still exists")
	}
	if exists(l.IncrDir("2026-01-01_02-00-00")) {
		t.Error("expired set's incrementals still exist; orphaned incrementals must never be observable")
	}

	// The fresh generation is untouched.
	if !exists(l.FullSetPath("2026-02-01_02-00-00")) {
		t.Error("fresh full set was deleted")
	}
	if !exists(l.IncrSetPath("2026-02-01_02-00-00", "2026-02-02_02-00-00")) {
		t.Error("fresh incremental was deleted")
	}
}

func TestPruneKeepFullCountZeroNeverPrunes(t *testing.T) {
	now := time.Now()
	l := chain.NewLocator(t.TempDir())

	// Ancient set, but keepFullCount=0 disables pruning instead of computing
	// a zero threshold that would delete everything immediately.
	mkFullSet(t, l, "2020-01-01_02-00-00", now, 3_000_000)

	p := retention.NewPruner(l, weekPolicy(0), false)
	deleted, err := p.Prune(context.Background(), now)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected no deletions with keepFullCount=0, got %v", deleted)
	}
	if !exists(l.FullSetPath("2020-01-01_02-00-00")) {
		t.Error("set was deleted despite keepFullCount=0")
	}
}

func TestPruneProtectsCurrentSetByArithmetic(t *testing.T) {
	now := time.Now()
	l := chain.NewLocator(t.TempDir())

	// keepFullCount=1: the just-created full set is below the threshold and
	// must survive purely through the age arithmetic, not a skip-newest rule.
	mkFullSet(t, l, "2026-03-01_02-00-00", now, 0)

	p := retention.NewPruner(l, weekPolicy(1), false)
	deleted, err := p.Prune(context.Background(), now)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected the current set to be retained, got deletions %v", deleted)
	}
}

func TestPruneDryRunDeletesNothing(t *testing.T) {
	now := time.Now()
	l := chain.NewLocator(t.TempDir())

	mkFullSet(t, l, "2026-01-01_02-00-00", now, 20000, "2026-01-02_02-00-00")

	p := retention.NewPruner(l, weekPolicy(1), true)
	if _, err := p.Prune(context.Background(), now); err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}

	if !exists(l.FullSetPath("2026-01-01_02-00-00")) {
		t.Error("dry run deleted the full set")
	}
	if !exists(l.IncrSetPath("2026-01-01_02-00-00", "2026-01-02_02-00-00")) {
		t.Error("dry run deleted an incremental")
	}
}

func TestPruneEmptyRoot(t *testing.T) {
	l := chain.NewLocator(t.TempDir())
	p := retention.NewPruner(l, weekPolicy(1), false)

	deleted, err := p.Prune(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Prune() on empty root failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected no deletions on empty root, got %v", deleted)
	}
}
