package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

// Modifier is a bit in a HotkeySpec modifier set
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModCmd
)

// modifierOrder is the canonical rendering order
var modifierOrder = []Modifier{ModCtrl, ModAlt, ModShift, ModCmd}

var modifierNames = map[Modifier]string{
	ModCtrl:  "ctrl",
	ModAlt:   "alt",
	ModShift: "shift",
	ModCmd:   "cmd",
}

var modifierDisplay = map[Modifier]string{
	ModCtrl:  "Ctrl",
	ModAlt:   "Alt",
	ModShift: "Shift",
	ModCmd:   "Cmd",
}

var modifierAliases = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"shift":   ModShift,
	"cmd":     ModCmd,
	"command": ModCmd,
	"super":   ModCmd,
	"win":     ModCmd,
	"windows": ModCmd,
	"meta":    ModCmd,
}

var keyAliases = map[string]string{
	"return": "enter",
	"escape": "esc",
	"del":    "delete",
}

// HotkeySpec is a parsed global shortcut: a set of modifiers plus one key.
// Two specs are equal (==) when they name the same chord.
type HotkeySpec struct {
	Mods Modifier
	Key  string
}

// ParseError reports a hotkey string that cannot be turned into a HotkeySpec
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid hotkey %q: %s", e.Input, e.Reason)
}

// ParseHotkey parses a hotkey combo string like "ctrl+alt+v" or "<ctrl>+<alt>+v"
func ParseHotkey(combo string) (HotkeySpec, error) {
	var spec HotkeySpec

	tokens := lo.Compact(lo.Map(strings.Split(combo, "+"), func(part string, _ int) string {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "<")
		part = strings.TrimSuffix(part, ">")
		return strings.ToLower(strings.TrimSpace(part))
	}))

	if len(tokens) == 0 {
		return spec, &ParseError{Input: combo, Reason: "empty hotkey combo"}
	}

	for _, tok := range tokens {
		if mod, ok := modifierAliases[tok]; ok {
			spec.Mods |= mod
			continue
		}
		if spec.Key != "" {
			return HotkeySpec{}, &ParseError{
				Input:  combo,
				Reason: fmt.Sprintf("more than one key (%s, %s)", spec.Key, tok),
			}
		}
		if alias, ok := keyAliases[tok]; ok {
			tok = alias
		}
		spec.Key = tok
	}

	if spec.Key == "" {
		return HotkeySpec{}, &ParseError{Input: combo, Reason: "no key specified, only modifiers"}
	}

	return spec, nil
}

// MustParseHotkey is like ParseHotkey but panics on error
func MustParseHotkey(combo string) HotkeySpec {
	spec, err := ParseHotkey(combo)
	if err != nil {
		panic(err)
	}
	return spec
}

// Has reports whether the modifier is part of the spec
func (s HotkeySpec) Has(mod Modifier) bool {
	return s.Mods&mod != 0
}

// Modifiers returns the modifiers in canonical order
func (s HotkeySpec) Modifiers() []Modifier {
	return lo.Filter(modifierOrder, func(m Modifier, _ int) bool { return s.Has(m) })
}

// String renders the canonical storage form, e.g. "<ctrl>+<alt>+v"
func (s HotkeySpec) String() string {
	parts := make([]string, 0, 5)
	for _, m := range s.Modifiers() {
		parts = append(parts, "<"+modifierNames[m]+">")
	}
	if utf8.RuneCountInString(s.Key) == 1 {
		parts = append(parts, s.Key)
	} else if s.Key != "" {
		parts = append(parts, "<"+s.Key+">")
	}
	return strings.Join(parts, "+")
}

// Display renders the human readable form, e.g. "Ctrl+Alt+V"
func (s HotkeySpec) Display() string {
	parts := make([]string, 0, 5)
	for _, m := range s.Modifiers() {
		parts = append(parts, modifierDisplay[m])
	}
	if s.Key != "" {
		parts = append(parts, displayKey(s.Key))
	}
	return strings.Join(parts, "+")
}

func displayKey(key string) string {
	if utf8.RuneCountInString(key) == 1 {
		return strings.ToUpper(key)
	}
	// f1..f24 render as F1..F24
	if key[0] == 'f' && len(key) <= 3 && strings.Trim(key[1:], "0123456789") == "" {
		return strings.ToUpper(key)
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
