//go:build !windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

const formatsTimeout = 2 * time.Second

var errFormatsUnknown = errors.New("no tool available to list clipboard formats")

// SystemClipboard keeps text through pbcopy/pbpaste on macOS and xclip, xsel
// or wl-clipboard on Linux, and PNG images through the native image clipboard
type SystemClipboard struct {
	goos     string
	run      CommandRunner
	lookPath func(string) (string, error)
	getenv   func(string) string

	readText   func() (string, error)
	writeText  func(string) error
	readImage  func() []byte
	writeImage func([]byte) error
}

// NewClipboard creates the native clipboard
func NewClipboard() Clipboard {
	return &SystemClipboard{
		goos:       runtime.GOOS,
		run:        outputRunner,
		lookPath:   exec.LookPath,
		getenv:     os.Getenv,
		readText:   readSystemText,
		writeText:  writeSystemText,
		readImage:  readNativeImage,
		writeImage: writeNativeImage,
	}
}

func outputRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func readSystemText() (string, error) {
	if clipboard.Unsupported {
		return "", fmt.Errorf("no clipboard utility available")
	}
	return clipboard.ReadAll()
}

func writeSystemText(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

// Get returns the clipboard text
func (c *SystemClipboard) Get() (string, error) {
	text, err := c.readText()
	if err != nil {
		return "", fmt.Errorf("failed to read clipboard: %w", err)
	}
	return text, nil
}

// Set replaces the clipboard with text
func (c *SystemClipboard) Set(text string) error {
	if err := c.writeText(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}

// Snapshot keeps plain text or a PNG image. Content in any other format, or
// text and image together, cannot be written back and is refused.
func (c *SystemClipboard) Snapshot() (ClipboardSnapshot, error) {
	formats, err := c.formats()
	if err != nil {
		slog.Debug("Clipboard formats unknown, keeping text and image only", "error", err)
		return c.snapshotUnknown()
	}

	kinds := classifyFormats(formats)
	if len(kinds.foreign) > 0 {
		return ClipboardSnapshot{}, fmt.Errorf("%w: %s", ErrClipboardUnrestorable, strings.Join(kinds.foreign, ", "))
	}
	if kinds.text && kinds.image {
		return ClipboardSnapshot{}, fmt.Errorf("%w: text and image together", ErrClipboardUnrestorable)
	}

	var snap ClipboardSnapshot
	switch {
	case kinds.image:
		png := c.readImage()
		if len(png) == 0 {
			return ClipboardSnapshot{}, fmt.Errorf("%w: image could not be read", ErrClipboardUnrestorable)
		}
		snap.Items = []ClipboardItem{{Format: FormatImagePNG, Data: png}}
	case kinds.text:
		text, err := c.Get()
		if err != nil {
			return ClipboardSnapshot{}, err
		}
		snap = textSnapshot(text)
	}
	return snap, nil
}

// snapshotUnknown is used when the formats cannot be listed
func (c *SystemClipboard) snapshotUnknown() (ClipboardSnapshot, error) {
	png := c.readImage()
	text, err := c.Get()
	switch {
	case len(png) > 0 && err == nil && text != "":
		return ClipboardSnapshot{}, fmt.Errorf("%w: text and image together", ErrClipboardUnrestorable)
	case len(png) > 0:
		return ClipboardSnapshot{Items: []ClipboardItem{{Format: FormatImagePNG, Data: png}}}, nil
	case err != nil:
		return ClipboardSnapshot{}, err
	}
	return textSnapshot(text), nil
}

func textSnapshot(text string) ClipboardSnapshot {
	if text == "" {
		return ClipboardSnapshot{}
	}
	return ClipboardSnapshot{
		Text:  text,
		Items: []ClipboardItem{{Format: FormatText, Data: []byte(text)}},
	}
}

// Restore writes the snapshot back. An empty snapshot leaves empty text.
func (c *SystemClipboard) Restore(snap ClipboardSnapshot) error {
	for _, item := range snap.Items {
		switch item.Format {
		case FormatImagePNG:
			if err := c.writeImage(item.Data); err != nil {
				return fmt.Errorf("failed to restore clipboard image: %w", err)
			}
			return nil
		case FormatText:
			return c.Set(string(item.Data))
		}
	}
	return c.Set("")
}

// formats lists what the clipboard currently offers. An empty list means
// nothing owns the clipboard.
func (c *SystemClipboard) formats() ([]string, error) {
	name, args, parse := c.formatLister()
	if name == "" {
		return nil, errFormatsUnknown
	}

	ctx, cancel := context.WithTimeout(context.Background(), formatsTimeout)
	defer cancel()

	out, err := c.run(ctx, name, args...)
	if err != nil {
		// xclip and wl-paste exit non-zero when the clipboard has no owner
		if name != "osascript" && ctx.Err() == nil {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return parse(string(out)), nil
}

func (c *SystemClipboard) formatLister() (string, []string, func(string) []string) {
	switch c.goos {
	case "darwin":
		return "osascript", []string{"-e", "clipboard info"}, parseClipboardInfo
	case "linux":
		if c.getenv("WAYLAND_DISPLAY") != "" && c.has("wl-paste") {
			return "wl-paste", []string{"--list-types"}, parseTargets
		}
		if c.has("xclip") {
			return "xclip", []string{"-selection", "clipboard", "-o", "-t", "TARGETS"}, parseTargets
		}
	}
	return "", nil, nil
}

func (c *SystemClipboard) has(tool string) bool {
	_, err := c.lookPath(tool)
	return err == nil
}
