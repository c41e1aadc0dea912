//go:build windows

package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procOpenClipboard              = user32.NewProc("OpenClipboard")
	procCloseClipboard             = user32.NewProc("CloseClipboard")
	procEmptyClipboard             = user32.NewProc("EmptyClipboard")
	procIsClipboardFormatAvailable = user32.NewProc("IsClipboardFormatAvailable")
	procEnumClipboardFormats       = user32.NewProc("EnumClipboardFormats")
	procGetClipboardData           = user32.NewProc("GetClipboardData")
	procSetClipboardData           = user32.NewProc("SetClipboardData")
	procGlobalAlloc                = kernel32.NewProc("GlobalAlloc")
	procGlobalFree                 = kernel32.NewProc("GlobalFree")
	procGlobalLock                 = kernel32.NewProc("GlobalLock")
	procGlobalUnlock               = kernel32.NewProc("GlobalUnlock")
	procGlobalSize                 = kernel32.NewProc("GlobalSize")
)

const (
	cfBitmap          = 2
	cfMetafilePict    = 3
	cfDIB             = 8
	cfPalette         = 9
	cfUnicodeText     = 13
	cfEnhMetafile     = 14
	cfDIBV5           = 17
	cfOwnerDisplay    = 0x80
	cfDspBitmap       = 0x82
	cfDspMetafilePict = 0x83
	cfDspEnhMetafile  = 0x8E
	cfPrivateFirst    = 0x200
	cfGDIObjLast      = 0x3FF

	gmemMoveable = 0x0002

	openAttempts = 10
	openBackoff  = 10 * time.Millisecond
)

var errClipboardBusy = errors.New("clipboard is held by another application")

// WindowsClipboard reads and writes the Win32 clipboard
type WindowsClipboard struct{}

// NewClipboard creates the native clipboard
func NewClipboard() Clipboard {
	return &WindowsClipboard{}
}

// Get returns the clipboard text, or "" when it holds no text
func (c *WindowsClipboard) Get() (text string, err error) {
	err = withClipboard(func() error {
		if ok, _, _ := procIsClipboardFormatAvailable.Call(cfUnicodeText); ok == 0 {
			return nil
		}

		h, _, callErr := procGetClipboardData.Call(cfUnicodeText)
		if h == 0 {
			return fmt.Errorf("failed to get clipboard data: %w", callErr)
		}

		data, err := readGlobal(h)
		if err != nil {
			return err
		}
		text = utf16Text(data)
		return nil
	})
	return text, err
}

// Set replaces the clipboard with text. An empty string leaves the clipboard empty.
func (c *WindowsClipboard) Set(text string) error {
	utf16, err := windows.UTF16FromString(text)
	if err != nil {
		return fmt.Errorf("failed to encode clipboard text: %w", err)
	}

	return withClipboard(func() error {
		if r, _, err := procEmptyClipboard.Call(); r == 0 {
			return fmt.Errorf("failed to empty clipboard: %w", err)
		}
		if text == "" {
			return nil
		}
		return putGlobal(cfUnicodeText, unsafe.Slice((*byte)(unsafe.Pointer(&utf16[0])), len(utf16)*2))
	})
}

// Snapshot copies every memory-backed format on the clipboard.
// Formats backed by GDI handles cannot be copied; the bitmap and palette ones
// are synthesized again by the system from a DIB, anything else is refused.
func (c *WindowsClipboard) Snapshot() (snap ClipboardSnapshot, err error) {
	err = withClipboard(func() error {
		var handles []uint32
		hasDIB := false

		for format := nextFormat(0); format != 0; format = nextFormat(format) {
			if handleFormat(format) {
				handles = append(handles, format)
				continue
			}

			h, _, _ := procGetClipboardData.Call(uintptr(format))
			if h == 0 {
				slog.Debug("Clipboard format could not be rendered", "format", format)
				continue
			}
			data, err := readGlobal(h)
			if err != nil {
				return err
			}

			snap.Items = append(snap.Items, ClipboardItem{
				Format: strconv.FormatUint(uint64(format), 10),
				Data:   data,
			})
			switch format {
			case cfUnicodeText:
				snap.Text = utf16Text(data)
			case cfDIB, cfDIBV5:
				hasDIB = true
			}
		}

		for _, format := range handles {
			if (format == cfBitmap || format == cfPalette) && hasDIB {
				continue
			}
			return fmt.Errorf("%w: format %d", ErrClipboardUnrestorable, format)
		}
		return nil
	})
	if err != nil {
		return ClipboardSnapshot{}, err
	}
	return snap, nil
}

// Restore empties the clipboard and puts every snapshot item back in order
func (c *WindowsClipboard) Restore(snap ClipboardSnapshot) error {
	return withClipboard(func() error {
		if r, _, err := procEmptyClipboard.Call(); r == 0 {
			return fmt.Errorf("failed to empty clipboard: %w", err)
		}
		for _, item := range snap.Items {
			format, err := strconv.ParseUint(item.Format, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid clipboard format %q: %w", item.Format, err)
			}
			if err := putGlobal(uint32(format), item.Data); err != nil {
				return err
			}
		}
		return nil
	})
}

// withClipboard opens the clipboard for the duration of fn. Other processes
// hold it briefly while they write, so opening is retried.
func withClipboard(fn func() error) error {
	opened := false
	for range openAttempts {
		if r, _, _ := procOpenClipboard.Call(0); r != 0 {
			opened = true
			break
		}
		time.Sleep(openBackoff)
	}
	if !opened {
		return errClipboardBusy
	}
	defer procCloseClipboard.Call()

	return fn()
}

func nextFormat(format uint32) uint32 {
	r, _, _ := procEnumClipboardFormats.Call(uintptr(format))
	return uint32(r)
}

// handleFormat reports formats whose data is a GDI or private handle rather
// than global memory
func handleFormat(format uint32) bool {
	switch format {
	case cfBitmap, cfMetafilePict, cfPalette, cfEnhMetafile,
		cfOwnerDisplay, cfDspBitmap, cfDspMetafilePict, cfDspEnhMetafile:
		return true
	}
	return format >= cfPrivateFirst && format <= cfGDIObjLast
}

// readGlobal copies the contents of a global memory handle
func readGlobal(h uintptr) ([]byte, error) {
	size, _, _ := procGlobalSize.Call(h)

	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		return nil, fmt.Errorf("failed to lock clipboard memory: %w", err)
	}
	defer procGlobalUnlock.Call(h)

	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(p)), size)...), nil
}

// putGlobal hands data to the open clipboard under format
func putGlobal(format uint32, data []byte) error {
	// zero-sized movable blocks cannot be locked
	h, _, err := procGlobalAlloc.Call(gmemMoveable, uintptr(max(len(data), 1)))
	if h == 0 {
		return fmt.Errorf("failed to allocate clipboard memory: %w", err)
	}

	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("failed to lock clipboard memory: %w", err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(data)), data)
	procGlobalUnlock.Call(h)

	// on success the clipboard owns h
	if r, _, err := procSetClipboardData.Call(uintptr(format), h); r == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("failed to set clipboard format %d: %w", format, err)
	}
	return nil
}

// utf16Text decodes a NUL-terminated UTF-16 buffer without reading past it
func utf16Text(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	units := unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), len(data)/2)
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}
	return windows.UTF16ToString(units)
}
