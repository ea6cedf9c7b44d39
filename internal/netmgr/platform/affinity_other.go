//go:build !linux

package platform

// PinThreadToCPU is a no-op on platforms without a cheap per-thread affinity
// API exposed through golang.org/x/sys/unix.  The manager treats the hint as
// advisory, so this never fails the worker it applies to.
func PinThreadToCPU(int) (err error) {
	return nil
}
