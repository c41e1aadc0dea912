package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// copyMenuScript clicks Edit > Copy in the frontmost application and falls back
// to Cmd+C for applications without a standard Edit menu
const copyMenuScript = `tell application "System Events"
	set frontApp to first application process whose frontmost is true
	try
		click menu item "Copy" of menu 1 of menu bar item "Edit" of menu bar 1 of frontApp
	on error
		keystroke "c" using command down
	end try
end tell`

// CommandRunner runs an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// AccessibilityAutomation directs the foreground application to perform its own
// copy action through macOS System Events scripting
type AccessibilityAutomation struct {
	run CommandRunner
}

// NewAccessibilityAutomation creates an osascript-based copier.
// A nil runner uses os/exec.
func NewAccessibilityAutomation(run CommandRunner) *AccessibilityAutomation {
	if run == nil {
		run = execRunner
	}
	return &AccessibilityAutomation{run: run}
}

// Name returns the variant name
func (a *AccessibilityAutomation) Name() string {
	return "accessibility-automation"
}

// CopySelection runs the copy script against the frontmost application
func (a *AccessibilityAutomation) CopySelection(ctx context.Context) error {
	out, err := a.run(ctx, "osascript", "-e", copyMenuScript)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("osascript failed: %w: %s", err, msg)
		}
		return fmt.Errorf("osascript failed: %w", err)
	}
	return nil
}
