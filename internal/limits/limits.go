// Package limits derives a safe pool capacity from the process file
// descriptor limit. Every in-flight fetch holds at least one socket.
package limits

import "errors"

// ErrUnsupported is returned where the open file limit cannot be read.
var ErrUnsupported = errors.New("open file limit not available on this platform")

// Reserve is the number of descriptors kept for the output file, logs,
// the metrics listener and the runtime.
const Reserve = 16

// CapCapacity lowers capacity so that capacity + Reserve descriptors fit
// in the soft open file limit. It returns capacity unchanged when the
// limit is unknown, and never less than 1.
func CapCapacity(capacity int) (int, bool) {
	soft, err := OpenFiles()
	if err != nil {
		return capacity, false
	}
	return capTo(capacity, soft)
}

func capTo(capacity int, soft uint64) (int, bool) {
	if soft <= Reserve {
		return 1, capacity > 1
	}
	ceiling := soft - Reserve
	if uint64(capacity) <= ceiling {
		return capacity, false
	}
	return int(ceiling), true
}
