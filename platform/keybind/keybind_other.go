//go:build !linux && !darwin && !windows

// Package keybind registers global hotkeys with the operating system.
package keybind

import (
	"fmt"
	"runtime"

	"markestedt/clipkb/config"
	"markestedt/clipkb/platform"
)

// Binder reports that global hotkeys are unavailable on this platform
type Binder struct{}

// NewBinder creates the OS binder
func NewBinder() *Binder {
	return &Binder{}
}

// Bind always fails
func (Binder) Bind(spec config.HotkeySpec) (platform.Binding, error) {
	return nil, fmt.Errorf("global hotkeys are not supported on %s", runtime.GOOS)
}
