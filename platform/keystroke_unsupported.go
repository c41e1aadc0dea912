//go:build !linux && !darwin && !windows

package platform

import (
	"fmt"
	"runtime"
)

func newCopyChord() func() error {
	return func() error {
		return fmt.Errorf("synthetic keystrokes are not supported on %s", runtime.GOOS)
	}
}
