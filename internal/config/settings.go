// Package config loads and merges agent settings from JSON files.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Bounds applied when settings reach the agent loop.
const (
	MinMaxRounds = 10
	MaxMaxRounds = 200
)

// Settings holds merged configuration from multiple sources.
// Later sources override earlier ones (user < project).
type Settings struct {
	Model            string   `json:"model,omitempty"`
	SystemPrompt     string   `json:"systemPrompt,omitempty"`
	MaxRounds        int      `json:"maxRounds,omitempty"`
	MaxDurationSec   int      `json:"maxDurationSeconds,omitempty"`
	DisabledTools    []string `json:"disabledTools,omitempty"`
	MCPConfigPath    string   `json:"mcpConfigPath,omitempty"`
	FailureWindow    int      `json:"failureWindow,omitempty"`
	FailureThreshold float64  `json:"failureThreshold,omitempty"`
}

// LoadSettings merges settings from multiple JSON file paths.
// Later paths override earlier ones. Missing or invalid files are skipped.
func LoadSettings(paths ...string) (*Settings, error) {
	merged := &Settings{}
	for _, path := range paths {
		s, err := loadSettingsFile(path)
		if err != nil {
			continue
		}
		mergeSettings(merged, s)
	}
	merged.Clamp()
	return merged, nil
}

// DefaultSettingsPaths returns the standard settings file search paths.
func DefaultSettingsPaths(projectDir string) []string {
	home, _ := os.UserHomeDir()
	var paths []string
	if home != "" {
		paths = append(paths, filepath.Join(home, ".termagent", "settings.json"))
	}
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ".termagent", "settings.json"))
	}
	return paths
}

// MaxDuration returns the configured run duration, or 0 when unset.
func (s *Settings) MaxDuration() time.Duration {
	return time.Duration(s.MaxDurationSec) * time.Second
}

// Clamp bounds MaxRounds to [MinMaxRounds, MaxMaxRounds]. Callers that
// override fields after loading (CLI flags) must re-apply it.
func (s *Settings) Clamp() {
	if s.MaxRounds != 0 {
		if s.MaxRounds < MinMaxRounds {
			s.MaxRounds = MinMaxRounds
		}
		if s.MaxRounds > MaxMaxRounds {
			s.MaxRounds = MaxMaxRounds
		}
	}
}

func loadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func mergeSettings(dst, src *Settings) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.SystemPrompt != "" {
		dst.SystemPrompt = src.SystemPrompt
	}
	if src.MaxRounds > 0 {
		dst.MaxRounds = src.MaxRounds
	}
	if src.MaxDurationSec > 0 {
		dst.MaxDurationSec = src.MaxDurationSec
	}
	if len(src.DisabledTools) > 0 {
		dst.DisabledTools = src.DisabledTools
	}
	if src.MCPConfigPath != "" {
		dst.MCPConfigPath = src.MCPConfigPath
	}
	if src.FailureWindow > 0 {
		dst.FailureWindow = src.FailureWindow
	}
	if src.FailureThreshold > 0 {
		dst.FailureThreshold = src.FailureThreshold
	}
}
