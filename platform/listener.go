package platform

import (
	"log/slog"
	"sync"

	"markestedt/clipkb/config"
)

// Listener owns at most one registered global hotkey.
// It is Idle until Start succeeds and Idle again after Stop.
type Listener struct {
	binder Binder

	mu      sync.Mutex
	spec    config.HotkeySpec
	binding Binding
	done    chan struct{}
	exited  chan struct{}
}

// NewListener creates an idle listener
func NewListener(binder Binder) *Listener {
	return &Listener{binder: binder}
}

// Start registers spec and invokes callback on a dedicated goroutine each
// time the hotkey is pressed and released. Firing on release keeps the
// hotkey's modifiers out of any keystroke the callback synthesizes.
// It returns once the hotkey is registered.
// The callback must not call Start or Stop.
func (l *Listener) Start(spec config.HotkeySpec, callback func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.binding != nil {
		return ErrAlreadyListening
	}

	b, err := l.binder.Bind(spec)
	if err != nil {
		return &RegistrationError{Spec: spec, Err: err}
	}
	if err := b.Register(); err != nil {
		return &RegistrationError{Spec: spec, Err: err}
	}

	done := make(chan struct{})
	exited := make(chan struct{})

	l.spec = spec
	l.binding = b
	l.done = done
	l.exited = exited

	go l.dispatch(b.Keydown(), b.Keyup(), done, exited, callback)

	slog.Debug("Hotkey registered", "hotkey", spec.Display())
	return nil
}

// Stop unregisters the hotkey. No callback runs after Stop returns.
// Calling Stop on an idle listener does nothing.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.binding == nil {
		return
	}

	close(l.done)
	if err := l.binding.Unregister(); err != nil {
		slog.Warn("Failed to unregister hotkey", "hotkey", l.spec.Display(), "error", err)
	}
	<-l.exited

	slog.Debug("Hotkey unregistered", "hotkey", l.spec.Display())

	l.binding = nil
	l.done = nil
	l.exited = nil
	l.spec = config.HotkeySpec{}
}

// Listening reports whether a hotkey is registered
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.binding != nil
}

// Spec returns the registered hotkey and whether the listener is active
func (l *Listener) Spec() (config.HotkeySpec, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spec, l.binding != nil
}

func (l *Listener) dispatch(keydown, keyup, done <-chan struct{}, exited chan<- struct{}, callback func()) {
	defer close(exited)

	pressed := false
	for {
		select {
		case <-done:
			return
		case _, ok := <-keydown:
			if !ok {
				return
			}
			pressed = true
		case _, ok := <-keyup:
			if !ok {
				return
			}
			// a release without a press belongs to a registration we did not see
			if !pressed {
				continue
			}
			pressed = false
			// Stop may have raced with the release
			select {
			case <-done:
				return
			default:
			}
			invoke(callback)
		}
	}
}

func invoke(callback func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hotkey callback panicked", "panic", r)
		}
	}()
	callback()
}
