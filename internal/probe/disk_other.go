//go:build !linux && !darwin && !windows

package probe

import (
	"fmt"
	"runtime"
)

// FreeBytes is not supported on this platform.
func FreeBytes(path string) (uint64, error) {
	return 0, fmt.Errorf("free space check not supported on %s", runtime.GOOS)
}
