//go:build windows

package preflight

// checkExecutableBit is a no-op on Windows; executability is determined by
// the file extension, which exec.LookPath has already verified.
func checkExecutableBit(path string) error {
	return nil
}
