package termagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/armatrix/termagent/mcp"
)

// ToolRouter is the slice of the MCP Manager the catalog needs: the
// flattened composite tool list and routed invocation. *mcp.Manager
// implements it.
type ToolRouter interface {
	Tools() []mcp.ToolInfo
	CallByName(ctx context.Context, compositeName string, args map[string]any) (string, error)
}

// Catalog is the single flattened tool view handed to the model: built-ins
// plus every connected server's namespaced tools, minus disabled patterns.
// It also routes execution: local for built-ins, through the router for
// mcp_-prefixed names.
type Catalog struct {
	builtins *Registry
	router   ToolRouter
	disabled []string
}

// NewCatalog builds a catalog over the given built-in registry and MCP
// router. Either may be nil. Disabled patterns are doublestar globs matched
// against catalog names (e.g. "mcp_scratch_*").
func NewCatalog(builtins *Registry, router ToolRouter, disabled ...string) *Catalog {
	if builtins == nil {
		builtins = NewRegistry()
	}
	return &Catalog{builtins: builtins, router: router, disabled: disabled}
}

// Specs returns the full advertised tool list.
func (c *Catalog) Specs() []ToolSpec {
	var specs []ToolSpec
	for _, spec := range c.builtins.Specs() {
		if !c.isDisabled(spec.Name) {
			specs = append(specs, spec)
		}
	}
	if c.router != nil {
		for _, info := range c.router.Tools() {
			if c.isDisabled(info.Name) {
				continue
			}
			specs = append(specs, ToolSpec{
				Name:        info.Name,
				Description: info.Description,
				InputSchema: info.InputSchema,
			})
		}
	}
	return specs
}

func (c *Catalog) isDisabled(name string) bool {
	for _, pattern := range c.disabled {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Execute runs one tool call. Built-ins run locally; mcp_-prefixed names
// are routed to their server; anything else returns ErrUnknownTool. Tool
// and routing failures come back as error-flagged results so the loop can
// feed them to the model instead of aborting.
func (c *Catalog) Execute(ctx context.Context, name string, raw json.RawMessage) (*ToolResult, error) {
	if c.isDisabled(name) {
		return nil, fmt.Errorf("%w: %s is disabled", ErrUnknownTool, name)
	}

	if c.builtins.Has(name) {
		return c.builtins.Execute(ctx, name, raw)
	}

	if mcp.IsCompositeToolName(name) {
		if c.router == nil {
			return nil, fmt.Errorf("%w: no MCP router configured", ErrUnknownTool)
		}
		args, err := decodeArguments(raw)
		if err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments: %s", err.Error())), nil
		}
		text, err := c.router.CallByName(ctx, name, args)
		if err != nil {
			return ErrorResult(mcp.Redact(err.Error())), nil
		}
		return TextResult(text), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}
