package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsNotify = notificationsName + ".Notify"

	expireMs = 5000

	// a notification daemon that stops answering must not hold up the caller
	callTimeout = 2 * time.Second
)

// urgency hint values
var urgency = map[Level]byte{
	Info:    0,
	Warning: 1,
	Error:   2,
}

type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Freedesktop sends org.freedesktop.Notifications over the session bus,
// replacing its previous notification
type Freedesktop struct {
	obj     caller
	timeout time.Duration

	mu     sync.Mutex
	lastID uint32
}

// NewFreedesktop connects to the session bus
func NewFreedesktop() (*Freedesktop, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Freedesktop{
		obj:     conn.Object(notificationsName, notificationsPath),
		timeout: callTimeout,
	}, nil
}

func (f *Freedesktop) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency[n.Level]),
	}

	timeout := f.timeout
	if timeout <= 0 {
		timeout = callTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	call := f.obj.CallWithContext(ctx, notificationsNotify, 0,
		AppName,
		f.lastID,
		"edit-paste",
		n.Title,
		n.Message,
		[]string{},
		hints,
		int32(expireMs),
	)

	var id uint32
	if err := call.Store(&id); err != nil {
		slog.Warn("Failed to send notification", "error", err)
		return
	}
	f.lastID = id
}
