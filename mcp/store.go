package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigStore is the narrow persistence port for the server list. The host
// application supplies whatever backing it wants; FileStore is the default.
type ConfigStore interface {
	Load() ([]ServerConfig, error)
	Save(configs []ServerConfig) error
}

// FileStore persists the server list as a single JSON file.
type FileStore struct {
	path string
}

var _ ConfigStore = (*FileStore)(nil)

// NewFileStore creates a FileStore at path, creating parent directories as
// needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mcp: create config dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// storeDocument is the on-disk shape.
type storeDocument struct {
	Servers []ServerConfig `json:"servers"`
}

// Load reads the server list. A missing file is an empty list, not an error.
func (f *FileStore) Load() ([]ServerConfig, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mcp: read config: %w", err)
	}

	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mcp: parse config: %w", err)
	}
	return doc.Servers, nil
}

// Save writes the full server list, replacing the previous contents.
func (f *FileStore) Save(configs []ServerConfig) error {
	data, err := json.MarshalIndent(storeDocument{Servers: configs}, "", "  ")
	if err != nil {
		return fmt.Errorf("mcp: marshal config: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("mcp: write config: %w", err)
	}
	return nil
}
