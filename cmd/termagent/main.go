// Command termagent runs a terminal agent loop against the Anthropic API,
// with built-in terminal tools and optional MCP servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"

	termagent "github.com/armatrix/termagent"
	"github.com/armatrix/termagent/builtin"
	"github.com/armatrix/termagent/internal/config"
	"github.com/armatrix/termagent/internal/usage"
	"github.com/armatrix/termagent/mcp"
	"github.com/armatrix/termagent/provider/anthropic"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "termagent:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		modelFlag = flag.String("model", "", "model ID (overrides settings)")
		maxRounds = flag.Int("max-rounds", 0, "maximum loop rounds (overrides settings)")
		mcpConfig = flag.String("mcp-config", "", "path to the MCP server config file")
		verbose   = flag.Bool("v", false, "enable debug logging")
		showCost  = flag.Bool("cost", false, "print token usage and cost on exit")
	)
	flag.Parse()

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: termagent [flags] <prompt>")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cwd, _ := os.Getwd()
	settings, err := config.LoadSettings(config.DefaultSettingsPaths(cwd)...)
	if err != nil {
		return err
	}
	if *modelFlag != "" {
		settings.Model = *modelFlag
	}
	if *maxRounds > 0 {
		settings.MaxRounds = *maxRounds
		settings.Clamp()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MCP servers
	manager, err := buildManager(ctx, settings, *mcpConfig, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	// Built-in terminal tools
	term, err := builtin.NewLocalTerminal()
	if err != nil {
		return fmt.Errorf("start local terminal: %w", err)
	}
	defer term.Close()

	builtins := termagent.NewRegistry()
	builtin.Register(builtins, term)

	catalog := termagent.NewCatalog(builtins, manager, settings.DisabledTools...)

	// Model client
	tracker := usage.NewTracker(nil)
	opts := []anthropic.Option{anthropic.WithUsageTracker(tracker)}
	if settings.Model != "" {
		opts = append(opts, anthropic.WithModel(sdk.Model(settings.Model)))
	}
	if settings.SystemPrompt != "" {
		opts = append(opts, anthropic.WithSystemPrompt(settings.SystemPrompt))
	}
	model := anthropic.New(sdk.NewClient(), opts...)

	loop := termagent.NewLoop(termagent.LoopConfig{
		Model:            model,
		Catalog:          catalog,
		MaxRounds:        settings.MaxRounds,
		MaxDuration:      settings.MaxDuration(),
		FailureWindow:    settings.FailureWindow,
		FailureThreshold: settings.FailureThreshold,
		Sink:             &consoleSink{},
		Logger:           logger,
	})

	result, err := loop.Run(ctx, prompt)
	if err != nil {
		return err
	}

	if *showCost {
		total := tracker.Total()
		fmt.Fprintf(os.Stderr, "tokens: %d in / %d out, cost: $%s\n",
			total.InputTokens, total.OutputTokens, tracker.Cost().StringFixed(4))
	}

	if result.Reason == termagent.ReasonUserCancel {
		return fmt.Errorf("cancelled")
	}
	return nil
}

func buildManager(ctx context.Context, settings *config.Settings, override string, logger *slog.Logger) (*mcp.Manager, error) {
	path := settings.MCPConfigPath
	if override != "" {
		path = override
	}
	if path == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			path = filepath.Join(home, ".termagent", "mcp.json")
		}
	}

	opts := []mcp.ManagerOption{mcp.WithLogger(logger)}
	if path != "" {
		store, err := mcp.NewFileStore(path)
		if err != nil {
			return nil, fmt.Errorf("open MCP config %s: %w", path, err)
		}
		opts = append(opts, mcp.WithStore(store))
	}

	manager := mcp.NewManager(opts...)
	if path != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := manager.AutoConnect(connectCtx); err != nil {
			logger.Warn("MCP auto-connect failed", "error", err)
		}
	}
	return manager, nil
}

// consoleSink prints streamed text and tool activity to the terminal.
type consoleSink struct {
	termagent.NopSink
	streamed bool
}

func (s *consoleSink) OnStream(delta string) {
	s.streamed = true
	fmt.Print(delta)
}

func (s *consoleSink) OnToolCall(call termagent.ToolCall) {
	if s.streamed {
		fmt.Println()
		s.streamed = false
	}
	fmt.Fprintf(os.Stderr, "→ %s\n", call.Name)
}

func (s *consoleSink) OnResult(result termagent.LoopResult) {
	if s.streamed {
		fmt.Println()
	}
	if result.Summary != "" {
		fmt.Fprintf(os.Stderr, "\n%s (%s, %d rounds, %s)\n",
			result.Summary, result.Reason, result.Rounds, result.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(os.Stderr, "\n[%s after %d rounds, %s]\n",
			result.Reason, result.Rounds, result.Duration.Round(time.Millisecond))
	}
}
