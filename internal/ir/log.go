package ir

import (
	"fmt"
	"strings"
	"time"
)

// LogScope says what an action log entry is about.
type LogScope string

const (
	ScopeReport   LogScope = "report"
	ScopeItem     LogScope = "item"
	ScopeInternal LogScope = "internal"
)

// LogLevel is the severity class of an action log entry.
type LogLevel string

const (
	LevelError   LogLevel = "error"
	LevelWarning LogLevel = "warning"
	LevelFilter  LogLevel = "filter"
)

// ValidLogScopes defines allowed scopes.
var ValidLogScopes = map[LogScope]bool{
	ScopeReport:   true,
	ScopeItem:     true,
	ScopeInternal: true,
}

// ValidLogLevels defines allowed levels.
var ValidLogLevels = map[LogLevel]bool{
	LevelError:   true,
	LevelWarning: true,
	LevelFilter:  true,
}

// ActionLogEntry is one message recorded against a report, optionally
// narrowed to a single item of that report.
//
// Index and TrackingID are only meaningful when Scope is ScopeItem.
type ActionLogEntry struct {
	ID         string        `json:"id"`
	ReportID   string        `json:"report_id"`
	Scope      LogScope      `json:"scope"`
	Level      LogLevel      `json:"level"`
	Index      *int          `json:"index,omitempty"`
	TrackingID string        `json:"tracking_id,omitempty"`
	FieldName  string        `json:"field_name,omitempty"`
	Message    string        `json:"message"`
	Filter     *FilterResult `json:"filter,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Validate checks scope, level and the filter payload invariant.
func (e ActionLogEntry) Validate() error {
	if !ValidLogScopes[e.Scope] {
		return fmt.Errorf("log %q: invalid scope %q", e.ID, e.Scope)
	}
	if !ValidLogLevels[e.Level] {
		return fmt.Errorf("log %q: invalid level %q", e.ID, e.Level)
	}
	if e.Level == LevelFilter && e.Filter == nil {
		return fmt.Errorf("log %q: filter level requires a filter result", e.ID)
	}
	return nil
}

// FilterType classifies which kind of filter removed items.
type FilterType string

const (
	FilterJurisdictional FilterType = "JURISDICTIONAL_FILTER"
	FilterQuality        FilterType = "QUALITY_FILTER"
	FilterRouting        FilterType = "ROUTING_FILTER"
	FilterProcessingMode FilterType = "PROCESSING_MODE_FILTER"
	FilterCondition      FilterType = "CONDITION_FILTER"
)

// DefaultTrackingValue is recorded when a filtered item has no tracking id.
const DefaultTrackingValue = "MissingID"

// FilterResult records one filter call that removed items for a receiver.
type FilterResult struct {
	ReceiverName            string     `json:"receiver_name"`
	OriginalCount           int        `json:"original_count"`
	FilterName              string     `json:"filter_name"`
	FilterArgs              []string   `json:"filter_args"`
	FilteredTrackingElement string     `json:"filtered_tracking_element"`
	FilterType              FilterType `json:"filter_type,omitempty"`
}

// Message renders the human-readable description of the filter result.
func (f FilterResult) Message() string {
	tracking := f.FilteredTrackingElement
	if tracking == "" {
		tracking = DefaultTrackingValue
	}
	return fmt.Sprintf("For %s, filter %s[%s] filtered out item %s",
		f.ReceiverName, f.FilterName, strings.Join(f.FilterArgs, ", "), tracking)
}
