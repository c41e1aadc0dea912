//go:build windows

package keybind

import (
	"golang.design/x/hotkey"

	"markestedt/clipkb/config"
)

var modifierMap = map[config.Modifier]hotkey.Modifier{
	config.ModCtrl:  hotkey.ModCtrl,
	config.ModShift: hotkey.ModShift,
	config.ModAlt:   hotkey.ModAlt,
	config.ModCmd:   hotkey.ModWin,
}
