package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	termagent "github.com/armatrix/termagent"
)

// fakeTerminal records the calls the tools make against the Terminal port.
type fakeTerminal struct {
	infos     []TerminalInfo
	output    string
	cwd       string
	selection string
	err       error

	lastIndex   int
	lastLines   int
	lastData    string
	lastExecute bool
	focused     int
}

func (f *fakeTerminal) List() []TerminalInfo { return f.infos }

func (f *fakeTerminal) Output(index, lines int) (string, error) {
	f.lastIndex, f.lastLines = index, lines
	return f.output, f.err
}

func (f *fakeTerminal) Write(index int, data string, execute bool) error {
	f.lastIndex, f.lastData, f.lastExecute = index, data, execute
	return f.err
}

func (f *fakeTerminal) Cwd(index int) (string, error) {
	f.lastIndex = index
	return f.cwd, f.err
}

func (f *fakeTerminal) Selection(index int) (string, error) {
	f.lastIndex = index
	return f.selection, f.err
}

func (f *fakeTerminal) Focus(index int) error {
	f.focused = index
	return f.err
}

func registryWith(t *testing.T, term Terminal) *termagent.Registry {
	t.Helper()
	reg := termagent.NewRegistry()
	Register(reg, term)
	return reg
}

func execTool(t *testing.T, reg *termagent.Registry, name, args string) *termagent.ToolResult {
	t.Helper()
	res, err := reg.Execute(context.Background(), name, json.RawMessage(args))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestRegister_AllToolsPresent(t *testing.T) {
	reg := registryWith(t, &fakeTerminal{})
	names := []string{
		termagent.ToolTaskComplete,
		"read_terminal_output",
		"write_to_terminal",
		"get_terminal_list",
		"get_terminal_cwd",
		"get_terminal_selection",
		"focus_terminal",
		"async_terminal_command",
		"check_task_status",
	}
	for _, name := range names {
		assert.True(t, reg.Has(name), name)
	}
	assert.Len(t, reg.Specs(), len(names))
}

func TestTaskCompleteTool(t *testing.T) {
	reg := registryWith(t, &fakeTerminal{})

	res := execTool(t, reg, termagent.ToolTaskComplete, `{"summary":"fixed the build","success":true}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "fixed the build")
}

func TestReadTerminalOutput(t *testing.T) {
	term := &fakeTerminal{output: "line1\nline2"}
	reg := registryWith(t, term)

	res := execTool(t, reg, "read_terminal_output", `{"lines":20,"terminal_index":2}`)
	assert.Equal(t, "line1\nline2", res.Content)
	assert.Equal(t, 2, term.lastIndex)
	assert.Equal(t, 20, term.lastLines)

	// Defaults: active terminal, standard line count.
	execTool(t, reg, "read_terminal_output", `{}`)
	assert.Equal(t, -1, term.lastIndex)
	assert.Equal(t, defaultOutputLines, term.lastLines)
}

func TestReadTerminalOutput_Empty(t *testing.T) {
	reg := registryWith(t, &fakeTerminal{})

	res := execTool(t, reg, "read_terminal_output", `{}`)
	assert.Equal(t, "(no output)", res.Content)
}

func TestReadTerminalOutput_Error(t *testing.T) {
	reg := registryWith(t, &fakeTerminal{err: errors.New("no such terminal")})

	res := execTool(t, reg, "read_terminal_output", `{"terminal_index":9}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "no such terminal")
}

func TestWriteToTerminal(t *testing.T) {
	term := &fakeTerminal{}
	reg := registryWith(t, term)

	res := execTool(t, reg, "write_to_terminal", `{"command":"ls -la"}`)
	assert.False(t, res.IsError)
	assert.Equal(t, "ls -la", term.lastData)
	assert.True(t, term.lastExecute) // execute defaults to true
	assert.Equal(t, -1, term.lastIndex)

	res = execTool(t, reg, "write_to_terminal", `{"command":"rm -rf /tmp/x","execute":false}`)
	assert.False(t, term.lastExecute)
	assert.Contains(t, res.Content, "not executed")
}

func TestWriteToTerminal_EmptyCommand(t *testing.T) {
	reg := registryWith(t, &fakeTerminal{})

	res := execTool(t, reg, "write_to_terminal", `{}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "command is required")
}

func TestGetTerminalList(t *testing.T) {
	term := &fakeTerminal{infos: []TerminalInfo{
		{Index: 0, Title: "bash", Active: true},
		{Index: 1, Title: "logs"},
	}}
	reg := registryWith(t, term)

	res := execTool(t, reg, "get_terminal_list", `{}`)
	assert.Contains(t, res.Content, `"title": "bash"`)
	assert.Contains(t, res.Content, `"title": "logs"`)

	empty := registryWith(t, &fakeTerminal{})
	res = execTool(t, empty, "get_terminal_list", `{}`)
	assert.Equal(t, "No terminals available.", res.Content)
}

func TestGetTerminalCwd(t *testing.T) {
	term := &fakeTerminal{cwd: "/work/project"}
	reg := registryWith(t, term)

	res := execTool(t, reg, "get_terminal_cwd", `{"terminal_index":1}`)
	assert.Equal(t, "/work/project", res.Content)
	assert.Equal(t, 1, term.lastIndex)
}

func TestGetTerminalSelection(t *testing.T) {
	term := &fakeTerminal{selection: "selected text"}
	reg := registryWith(t, term)

	res := execTool(t, reg, "get_terminal_selection", `{}`)
	assert.Equal(t, "selected text", res.Content)
	assert.Equal(t, -1, term.lastIndex)

	term.selection = ""
	res = execTool(t, reg, "get_terminal_selection", `{}`)
	assert.Equal(t, "(no selection)", res.Content)
}

func TestFocusTerminal(t *testing.T) {
	term := &fakeTerminal{}
	reg := registryWith(t, term)

	res := execTool(t, reg, "focus_terminal", `{"terminal_index":3}`)
	assert.Contains(t, res.Content, "Terminal 3 focused")
	assert.Equal(t, 3, term.focused)
}

// runnerTerminal is a fakeTerminal that also runs commands, so registration
// wires the async tools through a tracker.
type runnerTerminal struct {
	fakeTerminal
	runOutput string
	runErr    error
	runIndex  int
}

func (r *runnerTerminal) RunCommand(ctx context.Context, command string, terminalIndex int) (string, error) {
	r.runIndex = terminalIndex
	return r.runOutput, r.runErr
}

func TestAsyncCommandRoundTrip(t *testing.T) {
	term := &runnerTerminal{runOutput: "deps installed"}
	reg := termagent.NewRegistry()
	Register(reg, term)

	res := execTool(t, reg, "async_terminal_command", `{"command":"npm install"}`)
	require.False(t, res.IsError)
	require.Regexp(t, `Started task (task_[0-9a-f]+)\.`, res.Content)
	taskID := res.Content[len("Started task ") : len(res.Content)-1]

	require.Eventually(t, func() bool {
		status := execTool(t, reg, "check_task_status", `{"task_id":"`+taskID+`"}`)
		return !status.IsError && strings.Contains(status.Content, string(TaskDone))
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, -1, term.runIndex)

	status := execTool(t, reg, "check_task_status", `{"task_id":"`+taskID+`"}`)
	assert.Contains(t, status.Content, "deps installed")
}

func TestAsyncCommand_EmptyCommand(t *testing.T) {
	reg := termagent.NewRegistry()
	Register(reg, &runnerTerminal{})

	res := execTool(t, reg, "async_terminal_command", `{}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "command is required")
}

func TestAsyncCommand_UnsupportedHost(t *testing.T) {
	// A plain Terminal without CommandRunner cannot run async commands.
	reg := registryWith(t, &fakeTerminal{})

	res := execTool(t, reg, "async_terminal_command", `{"command":"ls"}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "not supported")
}

func TestCheckTaskStatus_Unknown(t *testing.T) {
	reg := termagent.NewRegistry()
	Register(reg, &runnerTerminal{})

	res := execTool(t, reg, "check_task_status", `{"task_id":"task_nope"}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "unknown task")
}
