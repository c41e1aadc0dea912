package postprocess

import (
	"context"
	"strings"
	"unicode"
)

const maxBlankLines = 1

// NormalizeNewlines converts CRLF and lone CR line endings to LF
func NormalizeNewlines(ctx context.Context, text string) (string, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n"), nil
}

// StripInvisible removes zero-width characters, the BOM and control
// characters other than newline and tab
func StripInvisible(ctx context.Context, text string) (string, error) {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t':
			return r
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text), nil
}

// TrimTrailingSpace removes trailing whitespace from every line
func TrimTrailingSpace(ctx context.Context, text string) (string, error) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.Join(lines, "\n"), nil
}

// CollapseBlankLines limits runs of empty lines
func CollapseBlankLines(ctx context.Context, text string) (string, error) {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := 0
	for _, line := range lines {
		if line == "" {
			blank++
			if blank > maxBlankLines {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), nil
}

// TrimSpace removes leading and trailing whitespace
func TrimSpace(ctx context.Context, text string) (string, error) {
	return strings.TrimSpace(text), nil
}
