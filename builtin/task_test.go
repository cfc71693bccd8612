package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner is a scripted CommandRunner.
type fakeRunner struct {
	output string
	err    error
	block  time.Duration // simulated run time
}

func (r *fakeRunner) RunCommand(ctx context.Context, command string, terminalIndex int) (string, error) {
	if r.block > 0 {
		select {
		case <-time.After(r.block):
		case <-ctx.Done():
			return r.output, ctx.Err()
		}
	}
	return r.output, r.err
}

func waitForStatus(t *testing.T, tracker *TaskTracker, taskID string, want TaskStatus) string {
	t.Helper()
	var status string
	require.Eventually(t, func() bool {
		s, err := tracker.Status(taskID, false)
		if err != nil {
			return false
		}
		status = s
		return strings.Contains(s, string(want))
	}, 5*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return status
}

func TestTaskTracker_Done(t *testing.T) {
	tracker := NewTaskTracker(&fakeRunner{output: "build ok"})

	taskID, err := tracker.Start("make build", -1, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(taskID, "task_"))

	status := waitForStatus(t, tracker, taskID, TaskDone)
	assert.Contains(t, status, "command: make build")
	assert.Contains(t, status, "build ok")
}

func TestTaskTracker_Failed(t *testing.T) {
	tracker := NewTaskTracker(&fakeRunner{output: "partial", err: errors.New("exit status 2")})

	taskID, err := tracker.Start("make test", -1, 0)
	require.NoError(t, err)

	status := waitForStatus(t, tracker, taskID, TaskFailed)
	assert.Contains(t, status, "error: exit status 2")
	assert.Contains(t, status, "partial")
}

func TestTaskTracker_TimedOut(t *testing.T) {
	tracker := NewTaskTracker(&fakeRunner{block: time.Minute})

	taskID, err := tracker.Start("sleep 600", -1, 50*time.Millisecond)
	require.NoError(t, err)

	status := waitForStatus(t, tracker, taskID, TaskTimedOut)
	assert.Contains(t, status, "timed out after")
}

func TestTaskTracker_RunningShowsPlaceholder(t *testing.T) {
	tracker := NewTaskTracker(&fakeRunner{block: time.Minute})

	taskID, err := tracker.Start("sleep 600", -1, time.Minute)
	require.NoError(t, err)

	status, err := tracker.Status(taskID, false)
	require.NoError(t, err)
	assert.Contains(t, status, string(TaskRunning))
	assert.Contains(t, status, "(still running)")
}

func TestTaskTracker_NilRunner(t *testing.T) {
	tracker := NewTaskTracker(nil)

	_, err := tracker.Start("anything", -1, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestTaskTracker_UnknownTask(t *testing.T) {
	tracker := NewTaskTracker(&fakeRunner{})

	_, err := tracker.Status("task_missing", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestTaskTracker_OutputTail(t *testing.T) {
	var lines []string
	for i := 0; i < taskOutputTail+20; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	tracker := NewTaskTracker(&fakeRunner{output: strings.Join(lines, "\n")})

	taskID, err := tracker.Start("noisy", -1, 0)
	require.NoError(t, err)
	waitForStatus(t, tracker, taskID, TaskDone)

	tail, err := tracker.Status(taskID, false)
	require.NoError(t, err)
	assert.NotContains(t, tail, "line 0\n")
	assert.Contains(t, tail, fmt.Sprintf("line %d", taskOutputTail+19))

	full, err := tracker.Status(taskID, true)
	require.NoError(t, err)
	assert.Contains(t, full, "line 0\n")
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "a\nb", tailLines("a\nb", 5))
	assert.Equal(t, "b\nc", tailLines("a\nb\nc", 2))
	assert.Equal(t, "", tailLines("", 3))
}
