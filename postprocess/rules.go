package postprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Redacted replaces terms listed without a replacement
const Redacted = "[redacted]"

// Rule replaces Original with Replacement, case-insensitively
type Rule struct {
	Original    string
	Replacement string
}

// Rules holds replacement rules loaded from a text file:
//
//	# comment
//	acme corp -> ACME
//	my-secret-token
//
// A line without "->" is a term that is redacted.
type Rules struct {
	Entries []Rule
}

// LoadRules loads rules from path. A missing file yields no rules.
func LoadRules(path string) (*Rules, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Rules{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open rules: %w", err)
	}
	defer file.Close()

	var entries []Rule
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		original, replacement, found := strings.Cut(line, "->")
		original = strings.TrimSpace(original)
		if original == "" {
			continue
		}
		if !found {
			entries = append(entries, Rule{Original: original, Replacement: Redacted})
			continue
		}
		entries = append(entries, Rule{Original: original, Replacement: strings.TrimSpace(replacement)})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	return &Rules{Entries: entries}, nil
}

// Len returns the number of rules; a nil set has none
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Entries)
}

// RulesProcessor creates a processor that applies the rules in file order
func RulesProcessor(rules *Rules) Processor {
	return func(ctx context.Context, text string) (string, error) {
		if rules == nil {
			return text, nil
		}

		result := text
		for _, rule := range rules.Entries {
			result = replaceFold(result, rule.Original, rule.Replacement)
		}
		return result, nil
	}
}

// replaceFold replaces every case-insensitive occurrence of old.
// Matching is done on the lower-cased text, so it is only exact for
// characters whose lower case has the same byte length.
func replaceFold(text, old, replacement string) string {
	lowerOld := strings.ToLower(old)
	if lowerOld == "" {
		return text
	}

	var b strings.Builder
	lowerText := strings.ToLower(text)
	if len(lowerText) != len(text) {
		return strings.ReplaceAll(text, old, replacement)
	}

	start := 0
	for {
		idx := strings.Index(lowerText[start:], lowerOld)
		if idx == -1 {
			break
		}
		b.WriteString(text[start : start+idx])
		b.WriteString(replacement)
		start += idx + len(lowerOld)
	}
	b.WriteString(text[start:])
	return b.String()
}
