package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of one async command.
type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskDone     TaskStatus = "done"
	TaskFailed   TaskStatus = "failed"
	TaskTimedOut TaskStatus = "timed_out"
)

const (
	defaultTaskTimeout = 60 * time.Second
	maxTaskTimeout     = 30 * time.Minute

	// taskOutputTail is how many trailing lines check_task_status returns
	// unless full output is requested.
	taskOutputTail = 50
)

// asyncTask is one tracked command.
type asyncTask struct {
	id       string
	command  string
	status   TaskStatus
	output   string
	err      string
	started  time.Time
	finished time.Time
}

// TaskTracker runs async terminal commands in goroutines and retains their
// status and output for later polling via check_task_status.
type TaskTracker struct {
	mu     sync.Mutex
	runner CommandRunner
	tasks  map[string]*asyncTask
}

// NewTaskTracker creates a tracker over the given runner, which may be nil
// if the host cannot run detached commands.
func NewTaskTracker(runner CommandRunner) *TaskTracker {
	return &TaskTracker{
		runner: runner,
		tasks:  make(map[string]*asyncTask),
	}
}

// Start launches command with the given timeout and returns the task ID.
// The task runs detached from the caller's context: cancelling the agent
// loop does not abandon a command the model asked to run asynchronously.
func (t *TaskTracker) Start(command string, terminalIndex int, timeout time.Duration) (string, error) {
	if t.runner == nil {
		return "", fmt.Errorf("async commands are not supported by this terminal host")
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	if timeout > maxTaskTimeout {
		timeout = maxTaskTimeout
	}

	task := &asyncTask{
		id:      "task_" + uuid.NewString()[:8],
		command: command,
		status:  TaskRunning,
		started: time.Now(),
	}
	t.mu.Lock()
	t.tasks[task.id] = task
	t.mu.Unlock()

	go t.run(task, terminalIndex, timeout)
	return task.id, nil
}

func (t *TaskTracker) run(task *asyncTask, terminalIndex int, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	output, err := t.runner.RunCommand(ctx, task.command, terminalIndex)

	t.mu.Lock()
	defer t.mu.Unlock()
	task.output = output
	task.finished = time.Now()
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		task.status = TaskTimedOut
		task.err = fmt.Sprintf("timed out after %s", timeout)
	case err != nil:
		task.status = TaskFailed
		task.err = err.Error()
	default:
		task.status = TaskDone
	}
}

// Status formats a task's state for the model. Unless full is set, output
// is trimmed to the trailing lines.
func (t *TaskTracker) Status(taskID string, full bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return "", fmt.Errorf("unknown task: %s", taskID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "task %s: %s\ncommand: %s\n", task.id, task.status, task.command)
	if task.err != "" {
		fmt.Fprintf(&b, "error: %s\n", task.err)
	}

	output := task.output
	if !full {
		output = tailLines(output, taskOutputTail)
	}
	if output != "" {
		fmt.Fprintf(&b, "output:\n%s", output)
	} else if task.status == TaskRunning {
		b.WriteString("output: (still running)")
	}
	return b.String(), nil
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
