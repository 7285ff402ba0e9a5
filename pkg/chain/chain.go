// Package chain inspects the on-disk layout of a backup root and resolves
// the current chain state: the most recent full backup set and, within it,
// the most recent incremental. All chain state is derived from the
// filesystem on every call; nothing is cached between invocations, which
// keeps runs stateless and crash-tolerant.
//
// Layout contract:
//
//	<root>/full/<fullId>/          one full backup set
//	<root>/incr/<fullId>/<incrId>/ incremental sets owned by <fullId>
//
// Identifiers are timestamp-derived and monotonically sortable, so
// lexicographic and chronological order coincide.
package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/chainbak/chainbak/pkg/metafile"
	"github.com/chainbak/chainbak/pkg/plog"
)

// Directory names for the two set namespaces under the backup root.
const (
	FullDirName = "full"
	IncrDirName = "incr"
)

// IDFormat is the time layout for set identifiers. Zero-padded fields keep
// lexicographic order equal to chronological order.
const IDFormat = "2006-01-02_15-04-05"

// FullSet represents one complete, self-sufficient backup: the root of a chain.
type FullSet struct {
	ID   string
	Path string
	// CreatedAt is taken from the directory's modification time, not parsed
	// from the identifier, to tolerate skew between naming and actual
	// completion of the engine run.
	CreatedAt time.Time
}

// IncrSet represents one incremental backup inside a full set's chain.
type IncrSet struct {
	ID     string
	FullID string
	Path   string
}

// Locator resolves chain state for a single backup root.
type Locator struct {
	root string
}

// NewLocator creates a Locator for the given backup root.
func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Root returns the backup root this locator scans.
func (l *Locator) Root() string {
	return l.root
}

// FullDir returns the directory holding all full backup sets.
func (l *Locator) FullDir() string {
	return filepath.Join(l.root, FullDirName)
}

// IncrDir returns the directory holding the incremental sets of one full set.
func (l *Locator) IncrDir(fullID string) string {
	return filepath.Join(l.root, IncrDirName, fullID)
}

// FullSetPath returns the directory for a full set with the given identifier.
func (l *Locator) FullSetPath(id string) string {
	return filepath.Join(l.FullDir(), id)
}

// IncrSetPath returns the directory for an incremental set.
func (l *Locator) IncrSetPath(fullID, id string) string {
	return filepath.Join(l.IncrDir(fullID), id)
}

// LocateLatestFull returns the most recent valid full backup set, or nil when
// none exists. A directory is a valid set only if it carries a readable
// metafile; partially written directories from failed or killed runs are
// treated as absent, which forces the next decision to FULL instead of
// erroring or basing an incremental on garbage.
func (l *Locator) LocateLatestFull() (*FullSet, error) {
	ids, err := l.validSetIDs(l.FullDir())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	id := ids[len(ids)-1]
	path := l.FullSetPath(id)
	info, err := os.Stat(path)
	if err != nil {
		// The directory vanished or lost its metadata between scan and stat.
		plog.Warn("Latest full set is missing filesystem metadata, treating as absent", "id", id, "error", err)
		return nil, nil
	}

	return &FullSet{ID: id, Path: path, CreatedAt: info.ModTime()}, nil
}

// LocateLatestIncremental returns the most recent valid incremental inside
// the given full set's chain, or nil when the chain has no incrementals yet
// (the base for the next incremental is then the full set itself).
func (l *Locator) LocateLatestIncremental(full *FullSet) (*IncrSet, error) {
	ids, err := l.validSetIDs(l.IncrDir(full.ID))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	id := ids[len(ids)-1]
	return &IncrSet{ID: id, FullID: full.ID, Path: l.IncrSetPath(full.ID, id)}, nil
}

// ListFulls returns all valid full sets ordered oldest to newest. Used by
// the retention pruner, which needs every generation, not just the latest.
func (l *Locator) ListFulls() ([]FullSet, error) {
	ids, err := l.validSetIDs(l.FullDir())
	if err != nil {
		return nil, err
	}

	fulls := make([]FullSet, 0, len(ids))
	for _, id := range ids {
		path := l.FullSetPath(id)
		info, err := os.Stat(path)
		if err != nil {
			plog.Warn("Skipping full set without filesystem metadata", "id", id, "error", err)
			continue
		}
		fulls = append(fulls, FullSet{ID: id, Path: path, CreatedAt: info.ModTime()})
	}
	return fulls, nil
}

// ListIncrementals returns all valid incrementals of one full set ordered
// oldest to newest, i.e. in chain order.
func (l *Locator) ListIncrementals(fullID string) ([]IncrSet, error) {
	ids, err := l.validSetIDs(l.IncrDir(fullID))
	if err != nil {
		return nil, err
	}

	incrs := make([]IncrSet, 0, len(ids))
	for _, id := range ids {
		incrs = append(incrs, IncrSet{ID: id, FullID: fullID, Path: l.IncrSetPath(fullID, id)})
	}
	return incrs, nil
}

// validSetIDs scans a namespace directory and returns the identifiers of all
// immediate child directories that carry a readable metafile, sorted
// ascending. A missing namespace directory yields an empty result; that is
// the normal state of a fresh backup root.
func (l *Locator) validSetIDs(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", dirPath, err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, err := metafile.Read(filepath.Join(dirPath, name)); err != nil {
			if !os.IsNotExist(err) {
				plog.Warn("Skipping set directory; cannot read metadata", "directory", name, "reason", err)
			} else {
				plog.Debug("Skipping set directory without metafile", "directory", name)
			}
			continue
		}
		ids = append(ids, name)
	}

	sort.Strings(ids)
	return ids, nil
}
