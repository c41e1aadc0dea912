//go:build linux

package keybind

import (
	"golang.design/x/hotkey"

	"markestedt/clipkb/config"
)

// X11: Alt is Mod1, Super is Mod4
var modifierMap = map[config.Modifier]hotkey.Modifier{
	config.ModCtrl:  hotkey.ModCtrl,
	config.ModShift: hotkey.ModShift,
	config.ModAlt:   hotkey.Mod1,
	config.ModCmd:   hotkey.Mod4,
}
