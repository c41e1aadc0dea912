//go:build linux || darwin

package platform

import (
	"fmt"
	"runtime"
	"time"

	"github.com/micmonay/keybd_event"
)

// uinput needs time before the virtual device accepts events
const uinputWarmup = 2 * time.Second

// newCopyChord prepares a keybd_event bonding for Ctrl+C (Cmd+C on macOS).
// The device is created in the background so startup is not delayed.
func newCopyChord() func() error {
	var (
		ready = make(chan struct{})
		kb    keybd_event.KeyBonding
		err   error
	)

	go func() {
		defer close(ready)
		kb, err = keybd_event.NewKeyBonding()
		if err != nil {
			return
		}
		if runtime.GOOS == "linux" {
			time.Sleep(uinputWarmup)
		}
		kb.SetKeys(keybd_event.VK_C)
		if runtime.GOOS == "darwin" {
			kb.HasSuper(true)
		} else {
			kb.HasCTRL(true)
		}
	}()

	return func() error {
		<-ready
		if err != nil {
			return fmt.Errorf("failed to create virtual keyboard: %w", err)
		}
		if err := kb.Launching(); err != nil {
			return fmt.Errorf("failed to send copy keystroke: %w", err)
		}
		return nil
	}
}
