package termagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ToolTaskComplete is the built-in tool the model calls to declare the task
// finished. The loop intercepts it by name: it marks the run completed and
// short-circuits any remaining intents in the round.
const ToolTaskComplete = "task_complete"

// taskCompleteInput mirrors the task_complete tool's parameters.
type taskCompleteInput struct {
	Summary   string `json:"summary"`
	Success   bool   `json:"success"`
	NextSteps string `json:"next_steps,omitempty"`
}

// LoopStatus is the lifecycle state of a Loop.
type LoopStatus string

const (
	LoopIdle       LoopStatus = "idle"
	LoopRunning    LoopStatus = "running"
	LoopTerminated LoopStatus = "terminated"
	LoopFailed     LoopStatus = "failed"
	LoopCancelled  LoopStatus = "cancelled"
)

// LoopResult summarizes a finished run.
type LoopResult struct {
	Reason    Reason
	FinalText string
	Summary   string // task_complete summary, when present
	Success   bool   // task_complete success flag
	Rounds    int
	Duration  time.Duration
	Err       error // set for reason error and user_cancel
}

// LoopConfig configures a Loop. Model is required; Catalog defaults to an
// empty catalog.
type LoopConfig struct {
	Model   ModelClient
	Catalog *Catalog

	// MaxRounds bounds the run; 0 means DefaultMaxRounds, clamped to
	// [MinMaxRounds, MaxMaxRounds].
	MaxRounds int

	// MaxDuration is the wall-clock ceiling for the whole run.
	MaxDuration time.Duration

	// FailureWindow and FailureThreshold drive the rolling failure-rate
	// stop condition.
	FailureWindow    int
	FailureThreshold float64

	Sink   EventSink
	Logger *slog.Logger
}

// Loop runs the agent control loop: rounds of one model turn plus the tool
// executions it requested, until the termination detector fires. A Loop
// runs one conversation at a time; rounds are strictly sequential.
type Loop struct {
	model    ModelClient
	catalog  *Catalog
	detector *Detector
	sink     EventSink
	logger   *slog.Logger

	mu      sync.Mutex
	status  LoopStatus
	history []Message
}

// NewLoop creates a Loop from cfg.
func NewLoop(cfg LoopConfig) *Loop {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = NewCatalog(nil, nil)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		model:    cfg.Model,
		catalog:  catalog,
		detector: NewDetector(cfg.MaxRounds, cfg.MaxDuration, cfg.FailureWindow, cfg.FailureThreshold),
		sink:     sink,
		logger:   logger,
		status:   LoopIdle,
	}
}

// Status returns the loop's lifecycle state.
func (l *Loop) Status() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// History returns a snapshot of the conversation so far.
func (l *Loop) History() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.history...)
}

// Run executes the loop for one user prompt, appending to any history from
// a previous run. It blocks until termination. Tool failures never abort
// the run; a model failure does, with reason error.
func (l *Loop) Run(ctx context.Context, prompt string) (*LoopResult, error) {
	l.mu.Lock()
	if l.status == LoopRunning {
		l.mu.Unlock()
		return nil, ErrLoopRunning
	}
	l.status = LoopRunning
	l.history = append(l.history, Message{Role: RoleUser, Content: prompt})
	l.mu.Unlock()

	runID := newRunID()
	state := &LoopState{Start: time.Now()}
	logger := l.logger.With("run", runID)
	logger.Info("loop started", "max_rounds", l.detector.MaxRounds)

	result := l.run(ctx, state, logger)
	result.Rounds = state.Round
	result.Duration = time.Since(state.Start)

	l.mu.Lock()
	switch result.Reason {
	case ReasonError:
		l.status = LoopFailed
	case ReasonUserCancel:
		l.status = LoopCancelled
	default:
		l.status = LoopTerminated
	}
	l.mu.Unlock()

	logger.Info("loop stopped", "reason", result.Reason, "rounds", result.Rounds)
	l.sink.OnResult(*result)

	if result.Reason == ReasonError {
		return result, result.Err
	}
	return result, nil
}

func (l *Loop) run(ctx context.Context, state *LoopState, logger *slog.Logger) *LoopResult {
	for {
		if err := ctx.Err(); err != nil {
			return &LoopResult{Reason: ReasonUserCancel, Err: err}
		}

		l.sink.OnRoundStart(state.Round + 1)

		turn, err := l.model.StreamTurn(ctx, l.History(), l.catalog.Specs(), l.sink.OnStream)
		if err != nil {
			if ctx.Err() != nil {
				return &LoopResult{Reason: ReasonUserCancel, Err: ctx.Err()}
			}
			// Model failures are system errors, distinct from tool errors.
			return &LoopResult{Reason: ReasonError, Err: fmt.Errorf("model call: %w", err)}
		}

		l.appendAssistant(turn)

		round := Round{Text: turn.Text, ToolCalls: turn.ToolCalls}
		completed, summary, success, cancelled := l.executeRound(ctx, turn.ToolCalls, &round)
		if cancelled {
			return &LoopResult{Reason: ReasonUserCancel, Err: ctx.Err()}
		}
		state.Completed = state.Completed || completed

		if len(round.Results) > 0 {
			l.appendResults(round.Results)
		}

		l.detector.Observe(state, round)
		reason, stop := l.detector.Evaluate(state, round)
		if stop {
			result := &LoopResult{Reason: reason, FinalText: turn.Text}
			if completed {
				result.Summary = summary
				result.Success = success
				if summary != "" {
					result.FinalText = summary
				}
			}
			return result
		}

		logger.Debug("round finished", "round", state.Round, "tool_calls", len(round.ToolCalls))
	}
}

// executeRound runs the round's intents sequentially. A task_complete call
// ends the round immediately, skipping the remaining intents. Unknown names
// become error results. Cancellation abandons the in-flight call without
// waiting for it.
func (l *Loop) executeRound(ctx context.Context, calls []ToolCall, round *Round) (completed bool, summary string, success bool, cancelled bool) {
	for _, call := range calls {
		if ctx.Err() != nil {
			return completed, summary, success, true
		}

		l.sink.OnToolCall(call)

		if call.Name == ToolTaskComplete {
			var input taskCompleteInput
			if err := json.Unmarshal(call.Arguments, &input); err != nil {
				input.Summary = string(call.Arguments)
			}
			result := ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: "Task marked complete.",
			}
			round.Results = append(round.Results, result)
			l.sink.OnToolResult(result)
			return true, input.Summary, input.Success, false
		}

		result, aborted := l.executeCall(ctx, call)
		if aborted {
			return completed, summary, success, true
		}
		round.Results = append(round.Results, result)
		l.sink.OnToolResult(result)
	}
	return completed, summary, success, false
}

// executeCall dispatches one call to the catalog in a goroutine so the loop
// can return instantly on cancellation rather than waiting out the call.
func (l *Loop) executeCall(ctx context.Context, call ToolCall) (result ToolResult, aborted bool) {
	type outcome struct {
		res *ToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := l.catalog.Execute(ctx, call.Name, call.Arguments)
		done <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return ToolResult{}, true
	case out := <-done:
		result = ToolResult{CallID: call.ID, Name: call.Name}
		switch {
		case out.err != nil:
			result.Content = out.err.Error()
			result.IsError = true
		case out.res != nil:
			result.Content = out.res.Content
			result.IsError = out.res.IsError
			result.Metadata = out.res.Metadata
		}
		return result, false
	}
}

func (l *Loop) appendAssistant(turn *ModelTurn) {
	l.mu.Lock()
	l.history = append(l.history, Message{
		Role:      RoleAssistant,
		Content:   turn.Text,
		ToolCalls: turn.ToolCalls,
	})
	l.mu.Unlock()
}

func (l *Loop) appendResults(results []ToolResult) {
	l.mu.Lock()
	l.history = append(l.history, Message{
		Role:        RoleTool,
		ToolResults: results,
	})
	l.mu.Unlock()
}
