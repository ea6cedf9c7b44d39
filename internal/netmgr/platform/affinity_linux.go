//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinThreadToCPU applies the worker's CPU-affinity hint to the calling OS
// thread.  It must be called from the goroutine that will run the worker's
// event loop after it has been locked to its OS thread with
// runtime.LockOSThread, since Linux affinity masks are per-thread.
func PinThreadToCPU(cpu int) (err error) {
	if cpu < 0 {
		return nil
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	err = unix.SchedSetaffinity(0, &set)
	if err != nil {
		return fmt.Errorf("platform: pinning to cpu %d: %w", cpu, err)
	}

	return nil
}
