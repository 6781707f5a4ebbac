//go:build !linux && !darwin && !freebsd

package limits

// OpenFiles is not available on this platform.
func OpenFiles() (uint64, error) {
	return 0, ErrUnsupported
}
