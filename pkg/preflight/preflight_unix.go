//go:build !windows

package preflight

import (
	"golang.org/x/sys/unix"
)

// checkExecutableBit asks the kernel whether this process may execute the
// file, which also covers group/other permission bits and ACLs that a plain
// mode-bit inspection would miss.
func checkExecutableBit(path string) error {
	return unix.Access(path, unix.X_OK)
}
