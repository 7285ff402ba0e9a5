//go:build !windows

package engine

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// setProcAttrs puts the engine into its own process group on Unix-like
// systems so that cancelling the context can terminate the entire process
// tree, including children the engine spawns itself.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}
