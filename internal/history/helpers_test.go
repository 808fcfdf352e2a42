package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/settings"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return base.Add(offset)
}

func atPtr(offset time.Duration) *time.Time {
	t := at(offset)
	return &t
}

func testSettings(t *testing.T) *settings.Settings {
	t.Helper()
	s, err := settings.New(
		settings.Organization{
			Name:        "co-phd",
			Description: "Colorado Department of Public Health",
			Receivers: []settings.Receiver{
				{Name: "elr", Topic: settings.TopicCovid19, Format: ir.FormatHL7Batch, Transport: "sftp"},
				{Name: "full-elr", Topic: settings.TopicFullELR, Format: ir.FormatHL7, Transport: "rest"},
			},
		},
		settings.Organization{
			Name:        "md-phd",
			Description: "Maryland Department of Health",
			Receivers: []settings.Receiver{
				{Name: "elr", Topic: settings.TopicCovid19, Format: ir.FormatCSV},
			},
		},
	)
	require.NoError(t, err)
	return s
}

func destNode(id, receiver string, action ir.ActionKind, items int, created time.Duration) ir.ReportNode {
	org, svc, _ := ir.SplitFullName(receiver)
	return ir.ReportNode{
		ID:              id,
		CreatedAt:       at(created),
		Action:          action,
		NextAction:      ir.ActionNone,
		ItemCount:       items,
		ReceivingOrg:    org,
		ReceivingOrgSvc: svc,
	}
}

func intPtr(i int) *int {
	return &i
}
