package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

const (
	localShell       = "bash"
	localBufferLines = 2000
	maxCommandOutput = 30_000
)

// localSession is one PTY-backed shell owned by a LocalTerminal.
type localSession struct {
	index int
	title string

	cmd  *exec.Cmd
	ptmx *os.File

	mu    sync.Mutex
	lines []string
	tail  string // partial line not yet terminated
}

func (s *localSession) appendOutput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.tail + string(data)
	parts := strings.Split(text, "\n")
	s.tail = parts[len(parts)-1]
	s.lines = append(s.lines, parts[:len(parts)-1]...)
	if len(s.lines) > localBufferLines {
		s.lines = s.lines[len(s.lines)-localBufferLines:]
	}
}

func (s *localSession) lastLines(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.lines
	if s.tail != "" {
		lines = append(append([]string{}, lines...), s.tail)
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// LocalTerminal hosts PTY-backed shell sessions in the current process.
// It implements both Terminal and CommandRunner.
type LocalTerminal struct {
	mu       sync.Mutex
	sessions []*localSession
	active   int
	closed   bool
}

var (
	_ Terminal      = (*LocalTerminal)(nil)
	_ CommandRunner = (*LocalTerminal)(nil)
)

// NewLocalTerminal starts a LocalTerminal with a single shell session.
func NewLocalTerminal() (*LocalTerminal, error) {
	lt := &LocalTerminal{active: 0}
	if _, err := lt.NewSession("shell"); err != nil {
		return nil, err
	}
	return lt, nil
}

// NewSession spawns an additional shell session and returns its index.
func (lt *LocalTerminal) NewSession(title string) (int, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.closed {
		return 0, fmt.Errorf("terminal host is closed")
	}

	cmd := exec.Command(localShell)
	cmd.Env = os.Environ()
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 0, fmt.Errorf("start shell: %w", err)
	}

	s := &localSession{
		index: len(lt.sessions),
		title: title,
		cmd:   cmd,
		ptmx:  ptmx,
	}
	lt.sessions = append(lt.sessions, s)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				s.appendOutput(buf[:n])
			}
			if err != nil {
				// PTY read returns EIO once the shell exits.
				return
			}
		}
	}()

	return s.index, nil
}

func (lt *LocalTerminal) session(index int) (*localSession, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if index == -1 {
		index = lt.active
	}
	if index < 0 || index >= len(lt.sessions) {
		return nil, fmt.Errorf("no terminal at index %d", index)
	}
	return lt.sessions[index], nil
}

func (lt *LocalTerminal) List() []TerminalInfo {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	infos := make([]TerminalInfo, len(lt.sessions))
	for i, s := range lt.sessions {
		infos[i] = TerminalInfo{Index: i, Title: s.title, Active: i == lt.active}
	}
	return infos
}

func (lt *LocalTerminal) Output(index, lines int) (string, error) {
	s, err := lt.session(index)
	if err != nil {
		return "", err
	}
	return s.lastLines(lines), nil
}

func (lt *LocalTerminal) Write(index int, text string, execute bool) error {
	s, err := lt.session(index)
	if err != nil {
		return err
	}
	if execute {
		text += "\n"
	}
	if _, err := s.ptmx.Write([]byte(text)); err != nil {
		return fmt.Errorf("write to terminal: %w", err)
	}
	return nil
}

// Cwd resolves the shell's working directory via /proc. Returns an error
// on platforms without procfs.
func (lt *LocalTerminal) Cwd(index int) (string, error) {
	s, err := lt.session(index)
	if err != nil {
		return "", err
	}
	if s.cmd.Process == nil {
		return "", fmt.Errorf("shell not running")
	}
	cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", s.cmd.Process.Pid))
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}
	return cwd, nil
}

// Selection is not supported by the local host; there is no UI to select in.
func (lt *LocalTerminal) Selection(index int) (string, error) {
	if _, err := lt.session(index); err != nil {
		return "", err
	}
	return "", nil
}

func (lt *LocalTerminal) Focus(index int) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if index < 0 || index >= len(lt.sessions) {
		return fmt.Errorf("no terminal at index %d", index)
	}
	lt.active = index
	return nil
}

// RunCommand executes a command in a fresh PTY, separate from the
// interactive sessions, and returns its combined output. Used by the
// async task tracker.
func (lt *LocalTerminal) RunCommand(ctx context.Context, command string, terminalIndex int) (string, error) {
	cwd := ""
	if c, err := lt.Cwd(terminalIndex); err == nil {
		cwd = c
	}

	cmd := exec.CommandContext(ctx, localShell, "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return lt.runWithoutPTY(ctx, cmd.Args, cwd)
	}
	defer ptmx.Close()

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, ptmx) // PTY read returns EIO on process exit, ignore

	waitErr := cmd.Wait()
	output := truncateOutput(buf.String())

	if waitErr != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return output, fmt.Errorf("exit code %d", exitErr.ExitCode())
		}
		return output, waitErr
	}
	return output, nil
}

func (lt *LocalTerminal) runWithoutPTY(ctx context.Context, args []string, cwd string) (string, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	out, err := cmd.CombinedOutput()
	output := truncateOutput(string(out))
	if err != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return output, fmt.Errorf("exit code %d", exitErr.ExitCode())
		}
		return output, err
	}
	return output, nil
}

func truncateOutput(s string) string {
	if len(s) > maxCommandOutput {
		return s[:maxCommandOutput] + "\n... [output truncated]"
	}
	return s
}

// Close terminates all sessions.
func (lt *LocalTerminal) Close() error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.closed {
		return nil
	}
	lt.closed = true
	for _, s := range lt.sessions {
		_ = s.ptmx.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	}
	return nil
}
