package chain_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chainbak/chainbak/pkg/chain"
	"github.com/chainbak/chainbak/pkg/metafile"
)

// mkSet creates a set directory with a metafile so the locator treats it as
// a valid, completed backup set.
func mkSet(t *testing.T, path, mode string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	err := metafile.Write(path, &metafile.Content{
		Version:      "test",
		TimestampUTC: time.Now().UTC(),
		Mode:         mode,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLocateLatestFullEmptyRoot(t *testing.T) {
	l := chain.NewLocator(t.TempDir())

	full, err := l.LocateLatestFull()
	if err != nil {
		t.Fatalf("LocateLatestFull() failed: %v", err)
	}
	if full != nil {
		t.Errorf("expected nil full set for empty root, got %+v", full)
	}
}

func TestLocateLatestFullPicksGreatestIdentifier(t *testing.T) {
	root := t.TempDir()
	l := chain.NewLocator(root)

	mkSet(t, l.FullSetPath("2026-01-01_02-00-00"), "full")
	mkSet(t, l.FullSetPath("2026-01-08_02-00-00"), "full")
	mkSet(t, l.FullSetPath("2026-01-15_02-00-00"), "full")

	full, err := l.LocateLatestFull()
	if err != nil {
		t.Fatalf("LocateLatestFull() failed: %v", err)
	}
	if full == nil {
		t.Fatal("expected a full set, got nil")
	}
	if full.ID != "2026-01-15_02-00-00" {
		t.Errorf("expected latest id 2026-01-15_02-00-00, got %s", full.ID)
	}
	if full.Path != l.FullSetPath(full.ID) {
		t.Errorf("unexpected path %s", full.Path)
	}
	if full.CreatedAt.IsZero() {
		t.Error("expected CreatedAt from directory modtime, got zero time")
	}
}

func TestLocateLatestFullIgnoresIncompleteSets(t *testing.T) {
	root := t.TempDir()
	l := chain.NewLocator(root)

	mkSet(t, l.FullSetPath("2026-01-01_02-00-00"), "full")

	// A newer directory without a metafile simulates a partially written set
	// left behind by a failed or killed engine run. It must not be selected.
	if err := os.MkdirAll(l.FullSetPath("2026-01-08_02-00-00"), 0755); err != nil {
		t.Fatal(err)
	}

	full, err := l.LocateLatestFull()
	if err != nil {
		t.Fatalf("LocateLatestFull() failed: %v", err)
	}
	if full == nil {
		t.Fatal("expected the older complete set, got nil")
	}
	if full.ID != "2026-01-01_02-00-00" {
		t.Errorf("expected complete set 2026-01-01_02-00-00, got %s", full.ID)
	}
}

func TestLocateLatestFullAllIncomplete(t *testing.T) {
	root := t.TempDir()
	l := chain.NewLocator(root)

	// Only incomplete sets exist: no valid full backup, forces a FULL decision.
	if err := os.MkdirAll(l.FullSetPath("2026-01-08_02-00-00"), 0755); err != nil {
		t.Fatal(err)
	}

	full, err := l.LocateLatestFull()
	if err != nil {
		t.Fatalf("LocateLatestFull() failed: %v", err)
	}
	if full != nil {
		t.Errorf("expected nil when no valid set exists, got %+v", full)
	}
}

func TestLocateLatestIncremental(t *testing.T) {
	root := t.TempDir()
	l := chain.NewLocator(root)

	mkSet(t, l.FullSetPath("2026-01-01_02-00-00"), "full")
	full, err := l.LocateLatestFull()
	if err != nil || full == nil {
		t.Fatalf("locating full failed: %v", err)
	}

	// No incrementals yet: base is the full set itself, signalled by nil.
	incr, err := l.LocateLatestIncremental(full)
	if err != nil {
		t.Fatalf("LocateLatestIncremental() failed: %v", err)
	}
	if incr != nil {
		t.Errorf("expected nil incremental for fresh chain, got %+v", incr)
	}

	mkSet(t, l.IncrSetPath(full.ID, "2026-01-02_02-00-00"), "incremental")
	mkSet(t, l.IncrSetPath(full.ID, "2026-01-03_02-00-00"), "incremental")

	incr, err = l.LocateLatestIncremental(full)
	if err != nil {
		t.Fatalf("LocateLatestIncremental() failed: %v", err)
	}
	if incr == nil {
		t.Fatal("expected an incremental set, got nil")
	}
	if incr.ID != "2026-01-03_02-00-00" {
		t.Errorf("expected latest incremental 2026-01-03_02-00-00, got %s", incr.ID)
	}
	if incr.FullID != full.ID {
		t.Errorf("expected owning full id %s, got %s", full.ID, incr.FullID)
	}
}

func TestListIncrementalsChainOrder(t *testing.T) {
	root := t.TempDir()
	l := chain.NewLocator(root)

	mkSet(t, l.FullSetPath("2026-01-01_02-00-00"), "full")
	ids := []string{"2026-01-02_02-00-00", "2026-01-03_02-00-00", "2026-01-04_02-00-00"}
	// Create out of order to prove the result is sorted by identifier.
	mkSet(t, l.IncrSetPath("2026-01-01_02-00-00", ids[2]), "incremental")
	mkSet(t, l.IncrSetPath("2026-01-01_02-00-00", ids[0]), "incremental")
	mkSet(t, l.IncrSetPath("2026-01-01_02-00-00", ids[1]), "incremental")

	incrs, err := l.ListIncrementals("2026-01-01_02-00-00")
	if err != nil {
		t.Fatalf("ListIncrementals() failed: %v", err)
	}
	if len(incrs) != 3 {
		t.Fatalf("expected 3 incrementals, got %d", len(incrs))
	}
	for i, want := range ids {
		if incrs[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, incrs[i].ID)
		}
	}
	// Chain validity: each incremental's predecessor has a strictly smaller
	// identifier, the first one is based on the full set.
	for i := 1; i < len(incrs); i++ {
		if incrs[i-1].ID >= incrs[i].ID {
			t.Errorf("chain not strictly ordered: %s before %s", incrs[i-1].ID, incrs[i].ID)
		}
	}
}

func TestListFulls(t *testing.T) {
	root := t.TempDir()
	l := chain.NewLocator(root)

	mkSet(t, l.FullSetPath("2026-01-08_02-00-00"), "full")
	mkSet(t, l.FullSetPath("2026-01-01_02-00-00"), "full")
	if err := os.MkdirAll(l.FullSetPath("2026-01-15_02-00-00"), 0755); err != nil { // incomplete
		t.Fatal(err)
	}
	// Stray files in the namespace directory are ignored.
	if err := os.WriteFile(filepath.Join(l.FullDir(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	fulls, err := l.ListFulls()
	if err != nil {
		t.Fatalf("ListFulls() failed: %v", err)
	}
	if len(fulls) != 2 {
		t.Fatalf("expected 2 valid full sets, got %d", len(fulls))
	}
	if fulls[0].ID != "2026-01-01_02-00-00" || fulls[1].ID != "2026-01-08_02-00-00" {
		t.Errorf("unexpected order: %s, %s", fulls[0].ID, fulls[1].ID)
	}
}
