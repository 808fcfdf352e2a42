package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
)

func itemLog(level ir.LogLevel, msg string, index int, trackingID string) ir.ActionLogEntry {
	return ir.ActionLogEntry{
		ReportID:   "r",
		Scope:      ir.ScopeItem,
		Level:      level,
		Index:      &index,
		TrackingID: trackingID,
		FieldName:  "patient_age",
		Message:    msg,
	}
}

func reportLog(level ir.LogLevel, msg string) ir.ActionLogEntry {
	return ir.ActionLogEntry{ReportID: "r", Scope: ir.ScopeReport, Level: level, Message: msg}
}

func TestConsolidateLogs_IdenticalItemLogsMerge(t *testing.T) {
	const k = 5
	var logs []ir.ActionLogEntry
	for i := k - 1; i >= 0; i-- {
		logs = append(logs, itemLog(ir.LevelError, "Invalid age", i, ""))
	}

	out := ConsolidateLogs(logs, LogFilter{})
	require.Len(t, out, 1)
	assert.Len(t, out[0].Indices, k)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, out[0].Indices, "item entries are ordered by index")
	assert.Empty(t, out[0].TrackingIDs)
	assert.Equal(t, "patient_age", out[0].Field)
}

func TestConsolidateLogs_GroupsOnMessageScopeAndLevel(t *testing.T) {
	logs := []ir.ActionLogEntry{
		itemLog(ir.LevelError, "b", 1, "t1"),
		reportLog(ir.LevelError, "b"),
		itemLog(ir.LevelWarning, "b", 2, "t2"),
		itemLog(ir.LevelError, "a", 3, "t3"),
		itemLog(ir.LevelError, "b", 0, "t0"),
	}

	out := ConsolidateLogs(logs, LogFilter{})
	require.Len(t, out, 4)

	// Report scope first, then item scope by index.
	assert.Equal(t, ir.ScopeReport, out[0].Scope)
	assert.Equal(t, "b", out[0].Message)
	assert.Nil(t, out[0].Indices)

	assert.Equal(t, "b", out[1].Message)
	assert.Equal(t, ir.LevelError, out[1].Level)
	assert.Equal(t, []int{0, 1}, out[1].Indices)
	assert.Equal(t, []string{"t0", "t1"}, out[1].TrackingIDs)

	assert.Equal(t, ir.LevelWarning, out[2].Level)
	assert.Equal(t, []int{2}, out[2].Indices)

	assert.Equal(t, "a", out[3].Message)
}

func TestConsolidateLogs_MissingIndexFirst(t *testing.T) {
	noIndex := itemLog(ir.LevelError, "m", 0, "x")
	noIndex.Index = nil

	out := ConsolidateLogs([]ir.ActionLogEntry{
		itemLog(ir.LevelError, "other", 1, "b"),
		noIndex,
	}, LogFilter{})
	require.Len(t, out, 2)
	assert.Equal(t, "m", out[0].Message)
	assert.Empty(t, out[0].Indices)
	assert.Equal(t, []string{"x"}, out[0].TrackingIDs)
}

func TestConsolidateLogs_Filter(t *testing.T) {
	internal := reportLog(ir.LevelError, "stack trace")
	internal.Scope = ir.ScopeInternal

	logs := []ir.ActionLogEntry{
		reportLog(ir.LevelError, "bad header"),
		reportLog(ir.LevelWarning, "deprecated field"),
		internal,
	}

	errs := ConsolidateLogs(logs, LogFilter{Level: ir.LevelError, DropInternal: true})
	require.Len(t, errs, 1)
	assert.Equal(t, "bad header", errs[0].Message)

	all := ConsolidateLogs(logs, LogFilter{Level: ir.LevelError})
	assert.Len(t, all, 2)
}

func TestConsolidateLogs_Empty(t *testing.T) {
	out := ConsolidateLogs(nil, LogFilter{})
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestConsolidatedLog_AddPanicsOnMessageMismatch(t *testing.T) {
	group := newConsolidatedLog(itemLog(ir.LevelError, "one", 0, ""))
	assert.Panics(t, func() {
		group.add(itemLog(ir.LevelError, "two", 1, ""))
	})
}
