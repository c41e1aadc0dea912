//go:build !windows

package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryClipboard backs a SystemClipboard with in-process text and image slots
type memoryClipboard struct {
	text    string
	image   []byte
	targets string
	listErr error
	calls   []string
}

func (m *memoryClipboard) system(goos string) *SystemClipboard {
	return &SystemClipboard{
		goos: goos,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			m.calls = append(m.calls, name)
			return []byte(m.targets), m.listErr
		},
		lookPath: func(tool string) (string, error) {
			if tool == "xclip" {
				return "/usr/bin/xclip", nil
			}
			return "", errors.New("not found")
		},
		getenv:   func(string) string { return "" },
		readText: func() (string, error) { return m.text, nil },
		writeText: func(s string) error {
			m.text, m.image = s, nil
			return nil
		},
		readImage: func() []byte { return m.image },
		writeImage: func(png []byte) error {
			m.text, m.image = "", png
			return nil
		},
	}
}

func TestSystemClipboardSnapshotText(t *testing.T) {
	mem := &memoryClipboard{text: "notes", targets: "TARGETS\nUTF8_STRING\nSTRING\n"}
	c := mem.system("linux")

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "notes", snap.Text)
	assert.Equal(t, []string{"xclip"}, mem.calls)

	require.NoError(t, c.Set(""))
	require.NoError(t, c.Restore(snap))
	assert.Equal(t, "notes", mem.text)
}

func TestSystemClipboardSnapshotImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	mem := &memoryClipboard{image: png, targets: "TARGETS\nimage/png\n"}
	c := mem.system("linux")

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Text)

	require.NoError(t, c.Set(""))
	assert.Nil(t, mem.image)

	require.NoError(t, c.Restore(snap))
	assert.Equal(t, png, mem.image)
}

func TestSystemClipboardRefusesForeignFormats(t *testing.T) {
	tests := map[string]*memoryClipboard{
		"file list":      {text: "/home/u/a.txt", targets: "x-special/gnome-copied-files\ntext/uri-list\nUTF8_STRING\n"},
		"text and image": {text: "caption", image: []byte("png"), targets: "image/png\nUTF8_STRING\n"},
		"unreadable png": {targets: "image/png\n"},
	}

	for name, mem := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := mem.system("linux").Snapshot()
			assert.ErrorIs(t, err, ErrClipboardUnrestorable)
		})
	}
}

func TestSystemClipboardNoOwner(t *testing.T) {
	mem := &memoryClipboard{listErr: errors.New("exit status 1")}
	c := mem.system("linux")

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestSystemClipboardWithoutLister(t *testing.T) {
	mem := &memoryClipboard{text: "plain"}
	c := mem.system("freebsd")

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "plain", snap.Text)
	assert.Empty(t, mem.calls)
}

func TestSystemClipboardMacOSClipboardInfo(t *testing.T) {
	mem := &memoryClipboard{text: "x", targets: "«class RTF », 312, «class utf8», 1, string, 1"}
	_, err := mem.system("darwin").Snapshot()
	assert.ErrorIs(t, err, ErrClipboardUnrestorable)
	assert.ErrorContains(t, err, "«class RTF »")
	assert.Equal(t, []string{"osascript"}, mem.calls)
}
