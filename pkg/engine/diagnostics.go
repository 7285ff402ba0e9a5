package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/chainbak/chainbak/pkg/config"
	"github.com/chainbak/chainbak/pkg/util"
)

// preserveDiagnostics writes the engine's full output into the diagnostics
// directory under the backup root so a failed run can be inspected later.
// Engine logs are verbose; they are compressed according to the configured
// format. The backup artifacts themselves are never touched here.
func preserveDiagnostics(root string, cfg config.DiagnosticsConfig, runID, diagnostics string) (string, error) {
	dir := filepath.Join(root, cfg.Dir)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("failed to create diagnostics directory %s: %w", dir, err)
	}

	var ext string
	switch cfg.Format {
	case "gz":
		ext = ".engine.log.gz"
	case "zst":
		ext = ".engine.log.zst"
	default:
		ext = ".engine.log"
	}

	logPath := filepath.Join(dir, runID+ext)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.UserWritableFilePerms)
	if err != nil {
		return "", fmt.Errorf("failed to create diagnostics log %s: %w", logPath, err)
	}
	defer f.Close()

	var w io.WriteCloser
	switch cfg.Format {
	case "gz":
		w = pgzip.NewWriter(f)
	case "zst":
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return "", fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w = zw
	default:
		w = f
	}

	if _, err := io.WriteString(w, diagnostics); err != nil {
		if w != f {
			w.Close()
		}
		return "", fmt.Errorf("failed to write diagnostics log %s: %w", logPath, err)
	}
	if w != f {
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("failed to finalize diagnostics log %s: %w", logPath, err)
		}
	}
	return logPath, nil
}
