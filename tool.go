package termagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/armatrix/termagent/internal/schema"
)

// Handler executes a tool with raw JSON input.
type Handler func(ctx context.Context, raw json.RawMessage) (*ToolResult, error)

// toolEntry is the type-erased wrapper stored in the registry.
type toolEntry struct {
	name        string
	description string
	schema      json.RawMessage
	execute     Handler
}

// Registry holds the built-in tools. It is concurrent-safe and preserves
// registration order for stable catalog output.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*toolEntry
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*toolEntry)}
}

// Register adds a typed tool. The input type T is used to auto-generate the
// advertised JSON Schema; malformed model input becomes an error result.
func Register[T any](r *Registry, name, description string, fn func(ctx context.Context, input T) (*ToolResult, error)) {
	r.RegisterRaw(name, description, schema.MustGenerate[T](),
		func(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
			var input T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &input); err != nil {
					return ErrorResult(fmt.Sprintf("invalid input: %s", err.Error())), nil
				}
			}
			return fn(ctx, input)
		})
}

// RegisterRaw adds a tool with a pre-built schema and handler.
func (r *Registry) RegisterRaw(name, description string, inputSchema json.RawMessage, execute Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = &toolEntry{
		name:        name,
		description: description,
		schema:      inputSchema,
		execute:     execute,
	}
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute runs a registered tool by name.
func (r *Registry) Execute(ctx context.Context, name string, raw json.RawMessage) (*ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return entry.execute(ctx, raw)
}

// Specs returns the registered tools in registration order.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		entry := r.tools[name]
		specs = append(specs, ToolSpec{
			Name:        entry.name,
			Description: entry.description,
			InputSchema: entry.schema,
		})
	}
	return specs
}
