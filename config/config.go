package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL         = "http://localhost:8000"
	DefaultHotkey         = "<ctrl>+<alt>+v"
	DefaultTimeoutSeconds = 10
	DefaultSettleMs       = 150
	DefaultWebPort        = 7787

	appDirName = "clipkb"
	envPrefix  = "CLIPKB_"
)

// Config is the flat configuration record persisted as TOML
type Config struct {
	APIKey          string `toml:"api_key"`
	KnowledgeBaseID string `toml:"knowledge_base_id"`
	DocumentID      string `toml:"document_id"`
	APIURL          string `toml:"api_url"`
	Hotkey          string `toml:"hotkey"`

	TimeoutSeconds      int  `toml:"timeout_seconds"`
	SettleMs            int  `toml:"settle_ms"`
	FallbackToClipboard bool `toml:"fallback_to_clipboard"`
	CleanText           bool `toml:"clean_text"`
	Notifications       bool `toml:"notifications"`
	History             bool `toml:"history"`
	WebEnabled          bool `toml:"web_enabled"`
	WebPort             int  `toml:"web_port"`
	Tray                bool `toml:"tray"`

	path string
	// file values shadowed by environment overrides, keyed by toml name
	overrides map[string]string
}

// Default configuration
func Default() *Config {
	return &Config{
		APIURL:              DefaultAPIURL,
		Hotkey:              DefaultHotkey,
		TimeoutSeconds:      DefaultTimeoutSeconds,
		SettleMs:            DefaultSettleMs,
		FallbackToClipboard: true,
		Notifications:       true,
		History:             true,
		WebEnabled:          true,
		WebPort:             DefaultWebPort,
		Tray:                true,
	}
}

// Dir returns the directory holding the config file, history database and .env
func Dir() (string, error) {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return filepath.Dir(p), nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// ConfigPath returns the path to the configuration file
func ConfigPath() (string, error) {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p, nil
	}

	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load loads the configuration from the default location
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from path.
// If the file doesn't exist, it creates it with default values.
// A .env file next to it is loaded first; CLIPKB_* variables override file values.
func LoadFrom(path string) (*Config, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := Default()
	cfg.path = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	file := *cfg
	cfg.applyEnv()
	cfg.overrides = diff(&file, cfg)
	return cfg, nil
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// Save writes the configuration to its TOML file.
// Values that came from environment overrides are written as they were in the file.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}

	out := *c
	for field, value := range c.overrides {
		*out.field(field) = value
	}

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(&out); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, c.path)
}

// Clone returns an independent copy, used as the per-activation snapshot
func (c *Config) Clone() *Config {
	out := *c
	if c.overrides != nil {
		out.overrides = make(map[string]string, len(c.overrides))
		for k, v := range c.overrides {
			out.overrides[k] = v
		}
	}
	return &out
}

// HotkeySpec parses the configured hotkey
func (c *Config) HotkeySpec() (HotkeySpec, error) {
	return ParseHotkey(c.Hotkey)
}

// Timeout returns the upload timeout
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SettleDelay returns the wait between the copy command and the clipboard read
func (c *Config) SettleDelay() time.Duration {
	if c.SettleMs <= 0 {
		return DefaultSettleMs * time.Millisecond
	}
	return time.Duration(c.SettleMs) * time.Millisecond
}

// Validate checks the fields required to upload a chunk
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.APIURL) == "" {
		missing = append(missing, "api_url")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(c.KnowledgeBaseID) == "" {
		missing = append(missing, "knowledge_base_id")
	}
	if strings.TrimSpace(c.DocumentID) == "" {
		missing = append(missing, "document_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}
