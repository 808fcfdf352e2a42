package history

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/reportflow/internal/ir"
)

// ConsolidatedLog groups log entries that share a message, scope and level.
// Indices and TrackingIDs are only populated for item-scoped groups.
type ConsolidatedLog struct {
	Scope       ir.LogScope `json:"scope"`
	Level       ir.LogLevel `json:"level"`
	Message     string      `json:"message"`
	Field       string      `json:"field,omitempty"`
	Indices     []int       `json:"indices,omitempty"`
	TrackingIDs []string    `json:"tracking_ids,omitempty"`
}

func newConsolidatedLog(e ir.ActionLogEntry) ConsolidatedLog {
	c := ConsolidatedLog{
		Scope:   e.Scope,
		Level:   e.Level,
		Message: e.Message,
		Field:   e.FieldName,
	}
	if e.Scope == ir.ScopeItem {
		c.Indices = []int{}
		c.TrackingIDs = []string{}
	}
	c.add(e)
	return c
}

func (c *ConsolidatedLog) canConsolidateWith(e ir.ActionLogEntry) bool {
	return c.Message == e.Message && c.Scope == e.Scope && c.Level == e.Level
}

// add folds e into the group. Callers must check canConsolidateWith first;
// mixing messages is a programming error.
func (c *ConsolidatedLog) add(e ir.ActionLogEntry) {
	if c.Message != e.Message {
		panic(fmt.Sprintf("history: cannot consolidate %q into group %q", e.Message, c.Message))
	}
	if c.Scope != ir.ScopeItem {
		return
	}
	if e.Index != nil {
		c.Indices = append(c.Indices, *e.Index)
	}
	if e.TrackingID != "" {
		c.TrackingIDs = append(c.TrackingIDs, e.TrackingID)
	}
}

// LogFilter selects the entries to consolidate. An empty Level keeps all levels.
type LogFilter struct {
	Level        ir.LogLevel
	DropInternal bool
}

func (f LogFilter) keep(e ir.ActionLogEntry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	return !(f.DropInternal && e.Scope == ir.ScopeInternal)
}

// ConsolidateLogs groups logs for display.
//
// Entries are ordered by message, then report-level entries come before
// item-level ones (item entries ordered by index, missing index first). The
// first remaining entry starts a group that absorbs every later entry with
// the same message, scope and level, until no entries remain.
func ConsolidateLogs(logs []ir.ActionLogEntry, filter LogFilter) []ConsolidatedLog {
	kept := make([]ir.ActionLogEntry, 0, len(logs))
	for _, l := range logs {
		if filter.keep(l) {
			kept = append(kept, l)
		}
	}

	slices.SortStableFunc(kept, func(a, b ir.ActionLogEntry) int {
		return cmp.Compare(a.Message, b.Message)
	})

	var nonItem, item []ir.ActionLogEntry
	for _, l := range kept {
		if l.Scope == ir.ScopeItem {
			item = append(item, l)
		} else {
			nonItem = append(nonItem, l)
		}
	}
	slices.SortStableFunc(nonItem, func(a, b ir.ActionLogEntry) int {
		return cmp.Compare(scopeRank(a.Scope), scopeRank(b.Scope))
	})
	slices.SortStableFunc(item, func(a, b ir.ActionLogEntry) int {
		return compareIndex(a.Index, b.Index)
	})
	remaining := append(nonItem, item...)

	out := []ConsolidatedLog{}
	for len(remaining) > 0 {
		group := newConsolidatedLog(remaining[0])
		rest := remaining[:0:0]
		for _, l := range remaining[1:] {
			if group.canConsolidateWith(l) {
				group.add(l)
			} else {
				rest = append(rest, l)
			}
		}
		out = append(out, group)
		remaining = rest
	}
	return out
}

func scopeRank(s ir.LogScope) int {
	switch s {
	case ir.ScopeReport:
		return 0
	case ir.ScopeInternal:
		return 1
	default:
		return 2
	}
}

func compareIndex(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmp.Compare(*a, *b)
	}
}
