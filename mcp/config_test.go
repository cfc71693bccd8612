package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{ID: "a", Transport: TransportStdio, Command: "srv"}, false},
		{"stdio missing command", ServerConfig{ID: "a", Transport: TransportStdio}, true},
		{"valid sse", ServerConfig{ID: "a", Transport: TransportSSE, URL: "http://x/sse"}, false},
		{"sse missing url", ServerConfig{ID: "a", Transport: TransportSSE}, true},
		{"valid streamable", ServerConfig{ID: "a", Transport: TransportStreamableHTTP, URL: "http://x/mcp"}, false},
		{"missing id", ServerConfig{Transport: TransportStdio, Command: "srv"}, true},
		{"unknown transport", ServerConfig{ID: "a", Transport: "carrier-pigeon"}, true},
		{"untyped with command", ServerConfig{ID: "a", Command: "srv"}, false},
		{"untyped with nothing", ServerConfig{ID: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfigCallTimeout(t *testing.T) {
	cfg := ServerConfig{TimeoutMs: 5000}
	assert.Equal(t, 5*time.Second, cfg.CallTimeout(30*time.Second))

	cfg.TimeoutMs = 0
	assert.Equal(t, 30*time.Second, cfg.CallTimeout(30*time.Second))
}

func TestImportServers(t *testing.T) {
	data := []byte(`{
		"mcpServers": {
			"filesystem": {
				"command": "npx",
				"args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"],
				"env": {"DEBUG": "1"}
			},
			"events": {"url": "https://example.com/sse"},
			"api": {"url": "https://example.com/mcp", "headers": {"X-Key": "k"}}
		}
	}`)

	configs, err := ImportServers(data)
	require.NoError(t, err)
	require.Len(t, configs, 3)

	byID := make(map[string]ServerConfig)
	for _, cfg := range configs {
		byID[cfg.ID] = cfg
		assert.True(t, cfg.Enabled)
		assert.Equal(t, cfg.ID, cfg.Name)
	}

	fs := byID["filesystem"]
	assert.Equal(t, TransportStdio, fs.Transport)
	assert.Equal(t, "npx", fs.Command)
	assert.Len(t, fs.Args, 3)
	assert.Equal(t, "1", fs.Env["DEBUG"])

	assert.Equal(t, TransportSSE, byID["events"].Transport)
	assert.Equal(t, TransportStreamableHTTP, byID["api"].Transport)
	assert.Equal(t, "k", byID["api"].Headers["X-Key"])
}

func TestImportServers_Invalid(t *testing.T) {
	_, err := ImportServers([]byte(`{"mcpServers":{}}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ImportServers([]byte(`not json`))
	assert.Error(t, err)

	_, err = ImportServers([]byte(`{"mcpServers":{"bad":{}}}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
