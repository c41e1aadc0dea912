//go:build windows

package platform

import (
	"fmt"
	"time"
	"unsafe"
)

var (
	procSendInput        = user32.NewProc("SendInput")
	procMapVirtualKeyW   = user32.NewProc("MapVirtualKeyW")
	procGetAsyncKeyState = user32.NewProc("GetAsyncKeyState")
)

const (
	inputKeyboard  = 1
	keyeventfKeyup = 0x0002
	mapvkVkToVsc   = 0

	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkLWin    = 0x5B
	vkRWin    = 0x5C
	vkC       = 0x43

	// how long the user gets to let go of the hotkey modifiers
	releaseWait = 400 * time.Millisecond
	releasePoll = 10 * time.Millisecond
)

// heldModifiers would turn Ctrl+C into a different chord if still down
var heldModifiers = []uint16{vkShift, vkMenu, vkLWin, vkRWin}

type keyboardInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// input mirrors the Win32 INPUT union sized for MOUSEINPUT
type input struct {
	inputType uint32
	ki        keyboardInput
	padding   [8]byte
}

func keyEvent(vk uint16, flags uint32) input {
	scan, _, _ := procMapVirtualKeyW.Call(uintptr(vk), mapvkVkToVsc)
	return input{
		inputType: inputKeyboard,
		ki: keyboardInput{
			wVk:     vk,
			wScan:   uint16(scan),
			dwFlags: flags,
		},
	}
}

func keyDown(vk uint16) bool {
	state, _, _ := procGetAsyncKeyState.Call(uintptr(vk))
	return state&0x8000 != 0
}

func newCopyChord() func() error {
	return sendCopyChord
}

// sendCopyChord sends Ctrl+C once the hotkey's own modifiers are released.
// Modifiers still held after the wait are lifted synthetically first.
func sendCopyChord() error {
	deadline := time.Now().Add(releaseWait)
	var held []uint16
	for {
		held = held[:0]
		for _, vk := range heldModifiers {
			if keyDown(vk) {
				held = append(held, vk)
			}
		}
		if len(held) == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(releasePoll)
	}

	inputs := make([]input, 0, len(held)+4)
	for _, vk := range held {
		inputs = append(inputs, keyEvent(vk, keyeventfKeyup))
	}
	inputs = append(inputs,
		keyEvent(vkControl, 0),
		keyEvent(vkC, 0),
		keyEvent(vkC, keyeventfKeyup),
		keyEvent(vkControl, keyeventfKeyup),
	)

	// a single call keeps the chord from interleaving with user input
	n, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if int(n) != len(inputs) {
		return fmt.Errorf("failed to send copy keystroke: %w", err)
	}
	return nil
}
