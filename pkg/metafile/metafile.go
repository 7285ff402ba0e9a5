// Package metafile reads and writes the per-set metadata file. The file is
// written only after the engine reports success, so its presence is the
// marker that distinguishes a complete backup set from a partially written
// directory left behind by a failed or killed run.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainbak/chainbak/pkg/util"
)

// MetaFileName is the name of the backup set metadata file.
const MetaFileName = ".chainbak.meta.json"

// Content holds the contents of the metadata file.
type Content struct {
	Version      string    `json:"version"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Mode         string    `json:"mode"`
	// BaseRef is the identifier of the set this incremental was taken
	// against (full set id or prior incremental id). Empty for full sets.
	BaseRef string `json:"baseRef,omitempty"`
}

// Write creates the metadata file inside the given set directory.
func Write(dirPath string, content *Content) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	// The metafile is part of the backup data itself; group-writable
	// permissions keep multi-user restore workflows working.
	if err := os.WriteFile(metaFilePath, jsonData, util.UserGroupWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}

	return nil
}

// Read opens and parses the metadata file in a given set directory.
func Read(dirPath string) (Content, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		// Note: os.IsNotExist errors are handled by the caller.
		return Content{}, err // Return the original error so os.IsNotExist works.
	}
	defer metaFile.Close()

	var content Content
	decoder := json.NewDecoder(metaFile)
	if err := decoder.Decode(&content); err != nil {
		return Content{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}

	return content, nil
}
