package mcp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallHistory_AppendAndRecords(t *testing.T) {
	h := NewCallHistory(10)
	h.Append(ToolCallRecord{ServerID: "a", ToolName: "x", Success: true, Timestamp: time.Now()})
	h.Append(ToolCallRecord{ServerID: "b", ToolName: "y", Success: false})

	records := h.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ServerID)
	assert.Equal(t, "b", records[1].ServerID)
	assert.Equal(t, 2, h.Len())
}

func TestCallHistory_EvictsOldest(t *testing.T) {
	h := NewCallHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(ToolCallRecord{ToolName: fmt.Sprintf("tool-%d", i)})
	}

	records := h.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "tool-2", records[0].ToolName)
	assert.Equal(t, "tool-4", records[2].ToolName)
}

func TestCallHistory_DefaultCapacity(t *testing.T) {
	h := NewCallHistory(0)
	for i := 0; i < DefaultHistoryCapacity+10; i++ {
		h.Append(ToolCallRecord{})
	}
	assert.Equal(t, DefaultHistoryCapacity, h.Len())
}
