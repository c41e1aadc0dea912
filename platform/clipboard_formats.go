package platform

import (
	"sort"
	"strings"
)

// textFormats carry nothing but the plain text itself. Keys are lower case.
var textFormats = map[string]bool{
	// X11 and Wayland targets
	"utf8_string":              true,
	"string":                   true,
	"text":                     true,
	"compound_text":            true,
	"text/plain":               true,
	"text/plain;charset=utf-8": true,
	// macOS clipboard info classes
	"unicode text": true,
	"«class utf8»": true,
	"«class ut16»": true,
}

var imageFormats = map[string]bool{
	"image/png":    true,
	"«class pngf»": true,
}

// metaFormats describe the selection rather than hold content
var metaFormats = map[string]bool{
	"targets":      true,
	"timestamp":    true,
	"multiple":     true,
	"save_targets": true,
}

// clipboardKinds summarizes the formats the clipboard advertises
type clipboardKinds struct {
	text    bool
	image   bool
	foreign []string
}

func classifyFormats(names []string) clipboardKinds {
	var kinds clipboardKinds
	seen := make(map[string]bool)
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		switch {
		case key == "" || metaFormats[key]:
		case textFormats[key]:
			kinds.text = true
		case imageFormats[key]:
			kinds.image = true
		case !seen[name]:
			seen[name] = true
			kinds.foreign = append(kinds.foreign, name)
		}
	}
	sort.Strings(kinds.foreign)
	return kinds
}

// parseTargets reads one format per line, as printed by
// "xclip -t TARGETS -o" and "wl-paste --list-types"
func parseTargets(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names
}

// parseClipboardInfo reads AppleScript "clipboard info" output, a flat list
// of class and size pairs such as "«class PNGf», 1024, string, 5"
func parseClipboardInfo(out string) []string {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	fields := strings.Split(out, ", ")
	names := make([]string, 0, len(fields)/2+1)
	for i := 0; i < len(fields); i += 2 {
		names = append(names, strings.TrimSpace(fields[i]))
	}
	return names
}
