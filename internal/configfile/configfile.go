// Package configfile reads and writes .weft/metadata.json, the per-project
// pointer to the database and export file. An optional .weft/config.yml
// overlays user-editable settings on top of it.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the metadata file inside the .weft directory.
const ConfigFileName = "metadata.json"

// OverlayFileName is the optional user-editable overlay. metadata.json is
// machine-written; the overlay is where humans put settings that should
// survive re-initialization.
const OverlayFileName = "config.yml"

// Config is the project-level configuration persisted in .weft/.
type Config struct {
	Database    string `json:"database"`
	JSONLExport string `json:"jsonl_export,omitempty"`
	ProjectName string `json:"project_name,omitempty"`

	// RelayURL points at the local message relay; empty disables relay use.
	RelayURL string `json:"relay_url,omitempty"`
}

// DefaultConfig returns a config with canonical file names.
func DefaultConfig() *Config {
	return &Config{
		Database:    "weft.db",
		JSONLExport: "cells.jsonl",
	}
}

// ConfigPath returns the metadata.json path under weftDir.
func ConfigPath(weftDir string) string {
	return filepath.Join(weftDir, ConfigFileName)
}

// Load reads the config from weftDir. Returns (nil, nil) when no config
// exists, so callers can distinguish "uninitialized" from a real error.
func Load(weftDir string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(weftDir)) // #nosec G304 - controlled path
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := applyOverlay(weftDir, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlay holds the settings a user may override in config.yml. Pointer
// fields distinguish "absent" from "set to empty".
type overlay struct {
	JSONLExport *string `yaml:"jsonl_export"`
	RelayURL    *string `yaml:"relay_url"`
}

// applyOverlay merges .weft/config.yml on top of cfg. A missing overlay is
// not an error.
func applyOverlay(weftDir string, cfg *Config) error {
	path := filepath.Join(weftDir, OverlayFileName)
	data, err := os.ReadFile(path) // #nosec G304 - controlled path
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if o.JSONLExport != nil {
		cfg.JSONLExport = *o.JSONLExport
	}
	if o.RelayURL != nil {
		cfg.RelayURL = *o.RelayURL
	}
	return nil
}

// Save writes the config to weftDir.
func (c *Config) Save(weftDir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(weftDir), data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// DatabasePath resolves the configured database file relative to weftDir.
func (c *Config) DatabasePath(weftDir string) string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(weftDir, c.Database)
}

// ExportPath resolves the configured JSONL export file relative to weftDir.
func (c *Config) ExportPath(weftDir string) string {
	name := c.JSONLExport
	if name == "" {
		name = DefaultConfig().JSONLExport
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(weftDir, name)
}
