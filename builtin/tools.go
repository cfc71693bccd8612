package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	termagent "github.com/armatrix/termagent"
)

const defaultOutputLines = 100

// Input structs for the built-in tool catalog. The jsonschema tags shape
// the parameter schemas advertised to the model.

type TaskCompleteInput struct {
	Summary   string `json:"summary" jsonschema:"required,description=Summary of what was accomplished"`
	Success   bool   `json:"success" jsonschema:"required,description=Whether the task succeeded"`
	NextSteps string `json:"next_steps,omitempty" jsonschema:"description=Suggested follow-up actions if any"`
}

type ReadOutputInput struct {
	Lines         *int `json:"lines,omitempty" jsonschema:"description=Number of trailing lines to read (default 100)"`
	TerminalIndex *int `json:"terminal_index,omitempty" jsonschema:"description=Target terminal index (default: active terminal)"`
}

type WriteTerminalInput struct {
	Command       string `json:"command" jsonschema:"required,description=Text to type into the terminal"`
	Execute       *bool  `json:"execute,omitempty" jsonschema:"description=Press enter after typing (default true)"`
	TerminalIndex *int   `json:"terminal_index,omitempty" jsonschema:"description=Target terminal index (default: active terminal)"`
}

type TerminalListInput struct{}

type TerminalCwdInput struct {
	TerminalIndex *int `json:"terminal_index,omitempty" jsonschema:"description=Target terminal index (default: active terminal)"`
}

type TerminalSelectionInput struct{}

type FocusTerminalInput struct {
	TerminalIndex int `json:"terminal_index" jsonschema:"required,description=Terminal index to focus"`
}

type AsyncCommandInput struct {
	Command        string `json:"command" jsonschema:"required,description=Command to run asynchronously"`
	TerminalIndex  *int   `json:"terminal_index,omitempty" jsonschema:"description=Target terminal index (default: active terminal)"`
	TimeoutSeconds *int   `json:"timeout_seconds,omitempty" jsonschema:"description=Maximum runtime in seconds (default 60)"`
}

type CheckTaskInput struct {
	TaskID     string `json:"task_id" jsonschema:"required,description=ID returned by async_terminal_command"`
	FullOutput *bool  `json:"full_output,omitempty" jsonschema:"description=Return the complete output instead of the tail"`
}

// Register adds the built-in terminal tools to reg, backed by term. When
// term also implements CommandRunner, async_terminal_command and
// check_task_status are wired through a TaskTracker.
func Register(reg *termagent.Registry, term Terminal) *TaskTracker {
	var runner CommandRunner
	if r, ok := term.(CommandRunner); ok {
		runner = r
	}
	tracker := NewTaskTracker(runner)
	RegisterWithTracker(reg, term, tracker)
	return tracker
}

// RegisterWithTracker is Register with an externally owned TaskTracker.
func RegisterWithTracker(reg *termagent.Registry, term Terminal, tracker *TaskTracker) {
	termagent.Register(reg, termagent.ToolTaskComplete,
		"Mark the current task as complete. Call this when the task is finished, with a summary of what was done.",
		func(_ context.Context, input TaskCompleteInput) (*termagent.ToolResult, error) {
			// The loop intercepts this call; executing it directly just
			// acknowledges the summary.
			return termagent.TextResult("Task marked complete: " + input.Summary), nil
		})

	termagent.Register(reg, "read_terminal_output",
		"Read the most recent output lines from a terminal.",
		func(_ context.Context, input ReadOutputInput) (*termagent.ToolResult, error) {
			lines := defaultOutputLines
			if input.Lines != nil && *input.Lines > 0 {
				lines = *input.Lines
			}
			output, err := term.Output(index(input.TerminalIndex), lines)
			if err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			if output == "" {
				return termagent.TextResult("(no output)"), nil
			}
			return termagent.TextResult(output), nil
		})

	termagent.Register(reg, "write_to_terminal",
		"Type a command into a terminal, optionally pressing enter to run it.",
		func(_ context.Context, input WriteTerminalInput) (*termagent.ToolResult, error) {
			if input.Command == "" {
				return termagent.ErrorResult("command is required"), nil
			}
			execute := true
			if input.Execute != nil {
				execute = *input.Execute
			}
			if err := term.Write(index(input.TerminalIndex), input.Command, execute); err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			if execute {
				return termagent.TextResult("Command sent to terminal."), nil
			}
			return termagent.TextResult("Text typed into terminal (not executed)."), nil
		})

	termagent.Register(reg, "get_terminal_list",
		"List the available terminals with their indexes.",
		func(_ context.Context, _ TerminalListInput) (*termagent.ToolResult, error) {
			infos := term.List()
			if len(infos) == 0 {
				return termagent.TextResult("No terminals available."), nil
			}
			data, err := json.MarshalIndent(infos, "", "  ")
			if err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			return termagent.TextResult(string(data)), nil
		})

	termagent.Register(reg, "get_terminal_cwd",
		"Get a terminal's current working directory.",
		func(_ context.Context, input TerminalCwdInput) (*termagent.ToolResult, error) {
			cwd, err := term.Cwd(index(input.TerminalIndex))
			if err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			return termagent.TextResult(cwd), nil
		})

	termagent.Register(reg, "get_terminal_selection",
		"Get the text currently selected in the active terminal.",
		func(_ context.Context, _ TerminalSelectionInput) (*termagent.ToolResult, error) {
			sel, err := term.Selection(-1)
			if err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			if sel == "" {
				return termagent.TextResult("(no selection)"), nil
			}
			return termagent.TextResult(sel), nil
		})

	termagent.Register(reg, "focus_terminal",
		"Make the given terminal the active one.",
		func(_ context.Context, input FocusTerminalInput) (*termagent.ToolResult, error) {
			if err := term.Focus(input.TerminalIndex); err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			return termagent.TextResult(fmt.Sprintf("Terminal %d focused.", input.TerminalIndex)), nil
		})

	termagent.Register(reg, "async_terminal_command",
		"Run a command asynchronously and return a task ID to poll with check_task_status.",
		func(_ context.Context, input AsyncCommandInput) (*termagent.ToolResult, error) {
			if input.Command == "" {
				return termagent.ErrorResult("command is required"), nil
			}
			timeout := time.Duration(0)
			if input.TimeoutSeconds != nil {
				timeout = time.Duration(*input.TimeoutSeconds) * time.Second
			}
			taskID, err := tracker.Start(input.Command, index(input.TerminalIndex), timeout)
			if err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			return termagent.TextResult(fmt.Sprintf("Started task %s.", taskID)), nil
		})

	termagent.Register(reg, "check_task_status",
		"Check the status and output of a task started by async_terminal_command.",
		func(_ context.Context, input CheckTaskInput) (*termagent.ToolResult, error) {
			full := input.FullOutput != nil && *input.FullOutput
			status, err := tracker.Status(input.TaskID, full)
			if err != nil {
				return termagent.ErrorResult(err.Error()), nil
			}
			return termagent.TextResult(status), nil
		})
}

func index(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
