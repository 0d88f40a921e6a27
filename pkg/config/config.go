// Package config loads and renders the settings behind the "config" and
// "doctor" built-ins: root/parallelism/logging/notification defaults that
// sit above any single catalog's manifest.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds the operator-tunable defaults the core reads outside of
// any manifest: scheduler parallelism, log verbosity, watch-loop debounce,
// and whether desktop notifications fire on watch reruns.
type Settings struct {
	MaxParallel          int    `json:"max_parallel" yaml:"max_parallel"`
	LogLevel             string `json:"log_level" yaml:"log_level"`
	WatchDebounceMs      int    `json:"watch_debounce_ms" yaml:"watch_debounce_ms"`
	NotificationsEnabled bool   `json:"notifications_enabled" yaml:"notifications_enabled"`
}

// Default returns the settings used when no config file exists and no
// EFFIGY_* environment override is bound.
func Default() Settings {
	return Settings{
		MaxParallel:          3,
		LogLevel:             "info",
		WatchDebounceMs:      300,
		NotificationsEnabled: true,
	}
}

// Manager loads Settings from an optional file, tolerating either JSON or
// YAML, and renders arbitrary resolved state back out as YAML for the
// "config"/"doctor" built-ins' human-readable output.
type Manager struct{}

// NewManager creates a settings manager.
func NewManager() *Manager {
	return &Manager{}
}

// Load reads Settings from path, starting from Default() so a partial file
// only overrides what it specifies. A missing file is not an error: the
// caller gets defaults, since settings are optional and env/flag overrides
// are applied by the caller afterward.
func (m *Manager) Load(path string) (Settings, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if jsonErr := json.Unmarshal(data, &cfg); jsonErr == nil {
		return cfg, nil
	}

	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return cfg, fmt.Errorf("%s: not valid JSON or YAML: %w", path, err)
	}
	jsonData, err := json.Marshal(yamlData)
	if err != nil {
		return cfg, fmt.Errorf("%s: re-marshal YAML as JSON: %w", path, err)
	}
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: decode config: %w", path, err)
	}
	return cfg, nil
}

// DumpYAML renders any resolved state (Settings, a doctor report, a
// catalog listing) as YAML for non-JSON invocation of the "config" and
// "doctor" built-ins.
func DumpYAML(v interface{}) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("render yaml: %w", err)
	}
	return string(out), nil
}
