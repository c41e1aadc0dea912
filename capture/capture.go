// Package capture reads the text selected in the foreground application
// while leaving the user's clipboard as it was.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"markestedt/clipkb/platform"
)

// DefaultSettle is how long the target application gets to fill the clipboard
// after the copy command. It is a fixed wait, not a poll; slow applications
// can miss it.
const DefaultSettle = 150 * time.Millisecond

// Source tells where captured text came from
type Source string

const (
	SourceNone      Source = ""
	SourceSelection Source = "selection"
	SourceClipboard Source = "clipboard"
)

// Result is the outcome of one acquisition
type Result struct {
	Text   string
	Source Source
	// Err is set when the text could not be acquired
	Err error
	// RestoreErr is set when the clipboard could not be put back
	RestoreErr error
	Duration   time.Duration
}

// Empty reports whether there is nothing to upload
func (r Result) Empty() bool {
	return r.Text == ""
}

// Acquirer captures the current selection through the clipboard
type Acquirer struct {
	clipboard platform.Clipboard
	copier    platform.SelectionCopier
	settle    time.Duration
	fallback  bool
}

// Option configures an Acquirer
type Option func(*Acquirer)

// WithSettle sets the wait between the copy command and the clipboard read
func WithSettle(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.settle = d
		}
	}
}

// WithClipboardFallback makes Acquire return the existing clipboard text
// when nothing was selected
func WithClipboardFallback(enabled bool) Option {
	return func(a *Acquirer) {
		a.fallback = enabled
	}
}

// NewAcquirer creates an acquirer over the given platform capabilities
func NewAcquirer(clipboard platform.Clipboard, copier platform.SelectionCopier, opts ...Option) *Acquirer {
	a := &Acquirer{
		clipboard: clipboard,
		copier:    copier,
		settle:    DefaultSettle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire returns the selected text. It never panics; failures are reported
// in the Result. Once the snapshot is taken the clipboard is always restored
// to it before Acquire returns. Without a snapshot the clipboard is not touched.
func (a *Acquirer) Acquire(ctx context.Context) (res Result) {
	start := time.Now()
	var snapshot *platform.ClipboardSnapshot

	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("capture panicked: %v", r)}
		}
		if snapshot != nil {
			if err := a.restore(*snapshot); err != nil {
				res.RestoreErr = fmt.Errorf("failed to restore clipboard: %w", err)
				slog.Warn("Failed to restore clipboard", "error", err)
			}
		}
		res.Duration = time.Since(start)
	}()

	snap, err := a.clipboard.Snapshot()
	if err != nil {
		res.Err = fmt.Errorf("failed to snapshot clipboard: %w", err)
		return res
	}
	snapshot = &snap

	text, err := a.copySelection(ctx)
	if err != nil {
		res.Err = err
		return res
	}

	switch {
	case text != "":
		res.Text, res.Source = text, SourceSelection
	case a.fallback && snap.Text != "":
		res.Text, res.Source = snap.Text, SourceClipboard
	}
	return res
}

func (a *Acquirer) restore(snap platform.ClipboardSnapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("restore panicked: %v", r)
		}
	}()
	return a.clipboard.Restore(snap)
}

// copySelection clears the clipboard, issues the copy command and reads back
func (a *Acquirer) copySelection(ctx context.Context) (string, error) {
	// An empty clipboard after the wait means nothing was selected
	if err := a.clipboard.Set(""); err != nil {
		return "", fmt.Errorf("failed to clear clipboard: %w", err)
	}

	if err := a.copier.CopySelection(ctx); err != nil {
		return "", fmt.Errorf("failed to copy selection (%s): %w", a.copier.Name(), err)
	}

	timer := time.NewTimer(a.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	text, err := a.clipboard.Get()
	if err != nil {
		return "", fmt.Errorf("failed to read clipboard: %w", err)
	}
	return text, nil
}
