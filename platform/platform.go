package platform

import (
	"context"
	"errors"
	"fmt"

	"markestedt/clipkb/config"
)

var (
	// ErrAlreadyListening is returned by Listener.Start when a hotkey is registered
	ErrAlreadyListening = errors.New("hotkey listener already running")

	// ErrUnsupportedKey is returned by a Binder for keys the OS layer cannot register
	ErrUnsupportedKey = errors.New("unsupported key")

	// ErrClipboardUnrestorable is returned by Clipboard.Snapshot when the
	// clipboard holds content that could not be written back unchanged
	ErrClipboardUnrestorable = errors.New("clipboard content cannot be restored")
)

// Clipboard item formats used by the text and image backends.
// The Windows backend uses numeric clipboard format ids instead.
const (
	FormatText     = "text/plain"
	FormatImagePNG = "image/png"
)

// RegistrationError reports a hotkey the OS refused or could not bind
type RegistrationError struct {
	Spec config.HotkeySpec
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register hotkey %s: %v", e.Spec.Display(), e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Binding is one OS-level hotkey registration
type Binding interface {
	Register() error
	Unregister() error
	// Keydown delivers one value per key press while registered
	Keydown() <-chan struct{}
	// Keyup delivers one value when the pressed hotkey is released
	Keyup() <-chan struct{}
}

// Binder turns a HotkeySpec into an OS binding
type Binder interface {
	Bind(spec config.HotkeySpec) (Binding, error)
}

// ClipboardItem is one representation held on the clipboard
type ClipboardItem struct {
	Format string
	Data   []byte
}

// ClipboardSnapshot holds everything needed to put the clipboard back
type ClipboardSnapshot struct {
	// Text is the plain text representation, "" when there is none
	Text  string
	Items []ClipboardItem
}

// Empty reports whether the clipboard held nothing
func (s ClipboardSnapshot) Empty() bool {
	return len(s.Items) == 0
}

// Clipboard provides clipboard access
type Clipboard interface {
	Get() (string, error)
	Set(text string) error
	// Snapshot captures every representation on the clipboard, or fails with
	// ErrClipboardUnrestorable before anything is changed
	Snapshot() (ClipboardSnapshot, error)
	// Restore replaces the clipboard with a snapshot
	Restore(snap ClipboardSnapshot) error
}

// SelectionCopier asks the foreground application to copy its selection
// to the clipboard
type SelectionCopier interface {
	CopySelection(ctx context.Context) error
	Name() string
}
