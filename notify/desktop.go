package notify

import (
	"log/slog"
	"runtime"

	"github.com/gen2brain/beeep"
)

// AppName is shown as the notification source
const AppName = "ClipKB"

// Desktop shows native notifications through beeep
type Desktop struct{}

func (Desktop) Notify(n Notification) {
	var err error
	if n.Level == Error {
		err = beeep.Alert(n.Title, n.Message, "")
	} else {
		err = beeep.Notify(n.Title, n.Message, "")
	}
	if err != nil {
		slog.Warn("Failed to show desktop notification", "error", err)
	}
}

// NewDesktop returns the best desktop sink for the host.
// On Linux the freedesktop service is used directly when the session bus is
// reachable so repeated activations replace one bubble instead of stacking.
func NewDesktop() Sink {
	beeep.AppName = AppName

	if runtime.GOOS == "linux" {
		fd, err := NewFreedesktop()
		if err == nil {
			return fd
		}
		slog.Debug("Session bus unavailable, using beeep", "error", err)
	}
	return Desktop{}
}
