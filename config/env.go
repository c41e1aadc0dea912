package config

import (
	"os"
	"strings"
)

// envFields are the string fields that can be overridden from the environment
var envFields = []string{"api_key", "api_url", "knowledge_base_id", "document_id", "hotkey"}

func (c *Config) field(name string) *string {
	switch name {
	case "api_key":
		return &c.APIKey
	case "api_url":
		return &c.APIURL
	case "knowledge_base_id":
		return &c.KnowledgeBaseID
	case "document_id":
		return &c.DocumentID
	case "hotkey":
		return &c.Hotkey
	}
	return nil
}

// applyEnv overrides fields from CLIPKB_API_KEY, CLIPKB_API_URL, ...
func (c *Config) applyEnv() {
	for _, name := range envFields {
		if v, ok := os.LookupEnv(envPrefix + strings.ToUpper(name)); ok && v != "" {
			*c.field(name) = v
		}
	}
}

// diff returns the file values of fields that differ in cfg
func diff(file, cfg *Config) map[string]string {
	out := make(map[string]string)
	for _, name := range envFields {
		if *file.field(name) != *cfg.field(name) {
			out[name] = *file.field(name)
		}
	}
	return out
}

// ClearOverride makes a field persist its current value on the next Save,
// used when the user edits a field that was set from the environment.
func (c *Config) ClearOverride(name string) {
	delete(c.overrides, name)
}

// Overridden reports whether a field currently comes from the environment
func (c *Config) Overridden(name string) bool {
	_, ok := c.overrides[name]
	return ok
}
