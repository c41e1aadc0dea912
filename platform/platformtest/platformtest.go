// Package platformtest provides in-memory platform capabilities for tests.
package platformtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"markestedt/clipkb/config"
	"markestedt/clipkb/platform"
)

// Binder hands out in-memory bindings and lets tests press hotkeys
type Binder struct {
	mu           sync.Mutex
	bindings     []*Binding
	FailBind     error
	FailRegister error
}

// Bind creates a binding for spec
func (b *Binder) Bind(spec config.HotkeySpec) (platform.Binding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailBind != nil {
		return nil, b.FailBind
	}
	binding := &Binding{
		spec:   spec,
		down:   make(chan struct{}, 8),
		up:     make(chan struct{}, 8),
		binder: b,
	}
	b.bindings = append(b.bindings, binding)
	return binding, nil
}

// Press simulates pressing and releasing spec and returns how many
// registered bindings received it
func (b *Binder) Press(spec config.HotkeySpec) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.send(spec, true, true)
}

// Hold simulates pressing spec without releasing it
func (b *Binder) Hold(spec config.HotkeySpec) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.send(spec, true, false)
}

// Release simulates letting go of a held spec
func (b *Binder) Release(spec config.HotkeySpec) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.send(spec, false, true)
}

func (b *Binder) send(spec config.HotkeySpec, down, up bool) int {
	n := 0
	for _, binding := range b.bindings {
		if !binding.registered || binding.spec != spec {
			continue
		}
		if down {
			binding.down <- struct{}{}
		}
		if down && up {
			binding.awaitPressSeen()
		}
		if up {
			binding.up <- struct{}{}
		}
		n++
	}
	return n
}

// Registered returns the specs that are currently registered
func (b *Binder) Registered() []config.HotkeySpec {
	b.mu.Lock()
	defer b.mu.Unlock()

	var specs []config.HotkeySpec
	for _, binding := range b.bindings {
		if binding.registered {
			specs = append(specs, binding.spec)
		}
	}
	return specs
}

// Binding is an in-memory hotkey registration
type Binding struct {
	spec       config.HotkeySpec
	down       chan struct{}
	up         chan struct{}
	binder     *Binder
	registered bool
}

func (b *Binding) Register() error {
	b.binder.mu.Lock()
	defer b.binder.mu.Unlock()
	if b.binder.FailRegister != nil {
		return b.binder.FailRegister
	}
	b.registered = true
	return nil
}

func (b *Binding) Unregister() error {
	b.binder.mu.Lock()
	defer b.binder.mu.Unlock()
	if !b.registered {
		return errors.New("not registered")
	}
	b.registered = false
	return nil
}

func (b *Binding) Keydown() <-chan struct{} {
	return b.down
}

func (b *Binding) Keyup() <-chan struct{} {
	return b.up
}

// awaitPressSeen gives the listener time to take the press off the channel
// so the release is not observed first
func (b *Binding) awaitPressSeen() {
	deadline := time.Now().Add(time.Second)
	for len(b.down) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

// Clipboard is an in-memory clipboard holding text and an optional image,
// with injectable failures
type Clipboard struct {
	mu      sync.Mutex
	text    string
	image   []byte
	writes  int
	GetErr  error
	SetErr  error
	SetHook func(text string)
	// Foreign makes Snapshot refuse, as for content it cannot write back
	Foreign string
	// SnapshotPanic makes Snapshot panic with the value
	SnapshotPanic any
}

// NewClipboard creates a clipboard holding text
func NewClipboard(text string) *Clipboard {
	return &Clipboard{text: text}
}

func (c *Clipboard) Get() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return "", c.GetErr
	}
	return c.text, nil
}

func (c *Clipboard) Set(text string) error {
	c.mu.Lock()
	if c.SetErr != nil {
		c.mu.Unlock()
		return c.SetErr
	}
	c.text = text
	c.image = nil
	c.writes++
	hook := c.SetHook
	c.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	return nil
}

// Snapshot captures the text and image
func (c *Clipboard) Snapshot() (platform.ClipboardSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SnapshotPanic != nil {
		panic(c.SnapshotPanic)
	}
	if c.GetErr != nil {
		return platform.ClipboardSnapshot{}, c.GetErr
	}
	if c.Foreign != "" {
		return platform.ClipboardSnapshot{}, fmt.Errorf("%w: %s", platform.ErrClipboardUnrestorable, c.Foreign)
	}

	snap := platform.ClipboardSnapshot{Text: c.text}
	if c.text != "" {
		snap.Items = append(snap.Items, platform.ClipboardItem{Format: platform.FormatText, Data: []byte(c.text)})
	}
	if c.image != nil {
		snap.Items = append(snap.Items, platform.ClipboardItem{Format: platform.FormatImagePNG, Data: bytes.Clone(c.image)})
	}
	return snap, nil
}

// Restore puts a snapshot back; it fails with SetErr like Set
func (c *Clipboard) Restore(snap platform.ClipboardSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}

	c.text, c.image = "", nil
	for _, item := range snap.Items {
		switch item.Format {
		case platform.FormatText:
			c.text = string(item.Data)
		case platform.FormatImagePNG:
			c.image = bytes.Clone(item.Data)
		}
	}
	c.writes++
	return nil
}

// SetImage places image data on the clipboard next to the text
func (c *Clipboard) SetImage(png []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = png
}

// Image returns the current image data
func (c *Clipboard) Image() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// Text returns the current content regardless of injected errors
func (c *Clipboard) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Writes returns the number of successful Set calls
func (c *Clipboard) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Copier simulates the foreground application copying Selection into Clipboard
type Copier struct {
	Clipboard *Clipboard
	Selection string
	Err       error
	Panic     any
	// Block, when set, is waited on before copying
	Block chan struct{}

	mu    sync.Mutex
	calls int
}

func (c *Copier) Name() string {
	return "fake"
}

func (c *Copier) CopySelection(ctx context.Context) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.Block != nil {
		select {
		case <-c.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.Panic != nil {
		panic(c.Panic)
	}
	if c.Err != nil {
		return c.Err
	}
	if c.Selection == "" {
		return nil
	}
	return c.Clipboard.Set(c.Selection)
}

// Calls returns how many times CopySelection ran
func (c *Copier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
