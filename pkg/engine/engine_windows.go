//go:build windows

package engine

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// setProcAttrs creates a new process group on Windows so that when the
// context is canceled the entire process tree is terminated, not just the
// engine executable itself.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}
