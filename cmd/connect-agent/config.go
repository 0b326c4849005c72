package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// agentConfig is the on-disk TOML shape for the connect-agent binary,
// the ambient config layer spec.md leaves to the embedder (spec §1).
// Grounded on the pack's typed-config-struct-plus-TOML-decode idiom; no
// example repo carries an INI parser, so TOML is the closest fit for a
// hand-editable printer-side config file.
type agentConfig struct {
	BaseURL     string `toml:"base_url"`
	Fingerprint string `toml:"fingerprint"`
	PrinterType string `toml:"printer_type"`
	PrinterVer  string `toml:"printer_version"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	// Mounts maps a filesystem tree mount name (e.g. "sdcard") to a
	// directory on the host filesystem served by backend/local.
	Mounts map[string]string `toml:"mounts"`

	ThrottleBytesPerSecond int `toml:"throttle_bytes_per_second"`
}

func defaultAgentConfig() agentConfig {
	cfg := agentConfig{
		PrinterType: "PRUSA_MINI",
		PrinterVer:  "1.0.0",
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

func loadAgentConfig(path string) (agentConfig, error) {
	cfg := defaultAgentConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return agentConfig{}, fmt.Errorf("connect-agent: reading config %q: %w", path, err)
	}
	return cfg, nil
}

func (c agentConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("connect-agent: config: base_url is required")
	}
	if c.Fingerprint == "" {
		return fmt.Errorf("connect-agent: config: fingerprint is required")
	}
	return nil
}
