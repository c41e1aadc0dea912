package platform

import (
	"context"
	"runtime"
)

// SyntheticKeystroke injects the platform copy chord into the system input queue
type SyntheticKeystroke struct {
	press func() error
}

// NewSyntheticKeystroke creates a copier that sends the copy chord with press.
// A nil press uses the native input injection for the host OS.
func NewSyntheticKeystroke(press func() error) *SyntheticKeystroke {
	if press == nil {
		press = newCopyChord()
	}
	return &SyntheticKeystroke{press: press}
}

// Name returns the variant name
func (k *SyntheticKeystroke) Name() string {
	return "synthetic-keystroke"
}

// CopySelection sends the copy chord
func (k *SyntheticKeystroke) CopySelection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.press()
}

// NewSelectionCopier picks the copier variant for the host platform.
// macOS drives the frontmost application through automation; other
// platforms synthesize the copy keystroke.
func NewSelectionCopier() SelectionCopier {
	return selectionCopierFor(runtime.GOOS)
}

func selectionCopierFor(goos string) SelectionCopier {
	if goos == "darwin" {
		return NewAccessibilityAutomation(nil)
	}
	return NewSyntheticKeystroke(nil)
}
