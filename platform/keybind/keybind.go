//go:build linux || darwin || windows

// Package keybind registers global hotkeys with the operating system.
package keybind

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"

	"markestedt/clipkb/config"
	"markestedt/clipkb/platform"
)

// Binder binds HotkeySpecs to OS hotkeys
type Binder struct{}

// NewBinder creates the OS binder
func NewBinder() *Binder {
	return &Binder{}
}

// Bind maps spec to OS modifiers and key code
func (Binder) Bind(spec config.HotkeySpec) (platform.Binding, error) {
	key, ok := keys[spec.Key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", platform.ErrUnsupportedKey, spec.Key)
	}

	mods := make([]hotkey.Modifier, 0, 4)
	for _, m := range spec.Modifiers() {
		mods = append(mods, modifierMap[m])
	}

	return &binding{
		hk:   hotkey.New(mods, key),
		down: make(chan struct{}, 1),
		up:   make(chan struct{}, 1),
	}, nil
}

type binding struct {
	hk   *hotkey.Hotkey
	down chan struct{}
	up   chan struct{}

	mu   sync.Mutex
	stop chan struct{}
}

func (b *binding) Register() error {
	if err := b.hk.Register(); err != nil {
		return err
	}

	b.mu.Lock()
	b.stop = make(chan struct{})
	stop := b.stop
	b.mu.Unlock()

	go b.forward(stop)
	return nil
}

func (b *binding) Unregister() error {
	b.mu.Lock()
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
	b.mu.Unlock()

	return b.hk.Unregister()
}

func (b *binding) Keydown() <-chan struct{} {
	return b.down
}

func (b *binding) Keyup() <-chan struct{} {
	return b.up
}

// forward relays presses and releases; an event arriving while one of the
// same kind is pending is dropped
func (b *binding) forward(stop <-chan struct{}) {
	keydown, keyup := b.hk.Keydown(), b.hk.Keyup()
	for {
		select {
		case <-stop:
			return
		case <-keydown:
			relay(b.down)
		case <-keyup:
			relay(b.up)
		}
	}
}

func relay(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
