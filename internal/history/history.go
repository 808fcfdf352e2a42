package history

import (
	"fmt"
	"time"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
	"github.com/roach88/reportflow/internal/settings"
)

// SubmissionHistory is the sender-facing view of one submission.
type SubmissionHistory struct {
	// ID is the report id, withheld when the submission has errors.
	ID                  *string           `json:"id"`
	SubmissionID        string            `json:"submission_id"`
	Timestamp           time.Time         `json:"timestamp"`
	Sender              string            `json:"sender"`
	Topic               string            `json:"topic,omitempty"`
	ExternalName        string            `json:"external_name,omitempty"`
	ReportItemCount     int               `json:"report_item_count"`
	HTTPStatus          int               `json:"http_status"`
	ErrorCount          int               `json:"error_count"`
	WarningCount        int               `json:"warning_count"`
	Errors              []ConsolidatedLog `json:"errors"`
	Warnings            []ConsolidatedLog `json:"warnings"`
	Destinations        []Destination     `json:"destinations"`
	DestinationCount    int               `json:"destination_count"`
	OverallStatus       Status            `json:"overall_status"`
	PlannedCompletionAt *time.Time        `json:"planned_completion_at"`
	ActualCompletionAt  *time.Time        `json:"actual_completion_at"`
}

// Builder assembles SubmissionHistory views.
type Builder struct {
	// Settings resolves organization names and receiver transports.
	// It may be nil.
	Settings settings.Provider

	// ValidationOnly marks snapshots of submissions that were validated but
	// never routed.
	ValidationOnly bool
}

// Build derives the history of the submission captured in snap.
func (b Builder) Build(snap lineage.Snapshot) (SubmissionHistory, error) {
	root, err := snap.Root()
	if err != nil {
		return SubmissionHistory{}, fmt.Errorf("history: %w", err)
	}

	var errorCount, warningCount int
	for _, l := range snap.Logs {
		if l.Scope == ir.ScopeInternal {
			continue
		}
		switch l.Level {
		case ir.LevelError:
			errorCount++
		case ir.LevelWarning:
			warningCount++
		}
	}

	dests := Aggregate(snap.Graph.Nodes(), snap.Logs, b.Settings)
	status := CalculateStatus(StatusInput{
		IntakeStatus:        root.IntakeStatus,
		Destinations:        dests,
		NodeCount:           snap.Graph.Len(),
		NextActionScheduled: snap.NextActionScheduled(),
		LatestHasNextAction: snap.LatestHasNextAction(),
		ValidationOnly:      b.ValidationOnly,
	})

	h := SubmissionHistory{
		SubmissionID:        root.ID,
		Timestamp:           root.CreatedAt,
		Sender:              senderName(root),
		Topic:               root.Topic,
		ExternalName:        root.ExternalName,
		ReportItemCount:     root.ItemCount,
		HTTPStatus:          root.IntakeStatus,
		ErrorCount:          errorCount,
		WarningCount:        warningCount,
		Errors:              ConsolidateLogs(snap.Logs, LogFilter{Level: ir.LevelError, DropInternal: true}),
		Warnings:            ConsolidateLogs(snap.Logs, LogFilter{Level: ir.LevelWarning, DropInternal: true}),
		Destinations:        dests,
		DestinationCount:    len(RealDestinations(dests)),
		OverallStatus:       status.Status,
		PlannedCompletionAt: status.PlannedCompletionAt,
		ActualCompletionAt:  status.ActualCompletionAt,
	}
	if errorCount == 0 {
		id := root.ID
		h.ID = &id
	}
	return h, nil
}

func senderName(root ir.ReportNode) string {
	if root.SendingOrgClient == "" {
		return root.SendingOrg
	}
	return root.SendingOrg + ir.FullNameSeparator + root.SendingOrgClient
}
