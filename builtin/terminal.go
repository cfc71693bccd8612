// Package builtin provides the agent's built-in terminal tool catalog. The
// tools operate against a Terminal port supplied by the host application; a
// PTY-backed LocalTerminal implementation is included for headless use.
package builtin

import "context"

// TerminalInfo describes one terminal known to the host.
type TerminalInfo struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Terminal is the host port the built-in tools run against. Index -1 means
// the active terminal.
type Terminal interface {
	// List enumerates the host's terminals.
	List() []TerminalInfo

	// Output returns the last lines of a terminal's scrollback. lines <= 0
	// means the implementation default.
	Output(index, lines int) (string, error)

	// Write sends data to a terminal's input. When execute is true a
	// newline is appended so the command runs.
	Write(index int, data string, execute bool) error

	// Cwd reports a terminal's working directory.
	Cwd(index int) (string, error)

	// Selection returns the current text selection, empty when none.
	Selection(index int) (string, error)

	// Focus makes a terminal the active one.
	Focus(index int) error
}

// CommandRunner is the optional capability backing async_terminal_command:
// run one command to completion and return its combined output. Hosts that
// cannot run detached commands simply don't implement it.
type CommandRunner interface {
	RunCommand(ctx context.Context, command string, terminalIndex int) (string, error)
}
