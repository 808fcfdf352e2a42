package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/harness"
	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
	"github.com/roach88/reportflow/internal/testutil"
)

func deliveredLineage() *testutil.LineageBuilder {
	b := testutil.NewLineage(base)
	b.Ingress("sub-0001", "simple-report.default", 2, 201,
		testutil.WithTopic("covid-19"), testutil.WithExternalName("results.csv")).
		Child("route-1", "sub-0001", ir.ActionRoute, "", 2, time.Second).
		Child("xlate-1", "route-1", ir.ActionTranslate, "co-phd.elr", 2, 2*time.Second,
			testutil.WithNext(ir.ActionBatch, b.AtPtr(time.Minute)),
			testutil.WithItemsBeforeQualityFilter(3)).
		Child("send-1", "xlate-1", ir.ActionSend, "co-phd.elr", 2, 90*time.Second,
			testutil.WithTransportResult("sftp ok"))

	for i, tracking := range []string{"msg-1", "msg-2"} {
		idx := i
		b.Log(ir.ActionLogEntry{
			ReportID:   "sub-0001",
			Scope:      ir.ScopeItem,
			Level:      ir.LevelWarning,
			Index:      &idx,
			TrackingID: tracking,
			FieldName:  "patient_age",
			Message:    "Invalid age",
		})
	}
	b.FilterLog("xlate-1", "co-phd.elr", "hasValidDataFor", 3, "msg-3", "patient_dob")
	return b
}

func TestBuild_DeliveredGolden(t *testing.T) {
	h, err := Builder{Settings: testSettings(t)}.Build(deliveredLineage().Snapshot(t))
	require.NoError(t, err)

	assert.Equal(t, StatusDelivered, h.OverallStatus)
	harness.AssertGolden(t, "delivered", h)
}

func TestBuild_FilteredOutGolden(t *testing.T) {
	b := testutil.NewLineage(base).
		Ingress("sub-0002", "simple-report", 1, 201).
		Child("route-2", "sub-0002", ir.ActionRoute, "", 0, time.Second).
		FilterLog("route-2", "md-phd.elr", "matches", 1, "msg-9", "state", "MD")

	h, err := Builder{Settings: testSettings(t)}.Build(b.Snapshot(t))
	require.NoError(t, err)

	assert.Equal(t, StatusNotDelivering, h.OverallStatus)
	assert.Equal(t, 0, h.DestinationCount)
	harness.AssertGolden(t, "filtered_out", h)
}

func TestBuild_ZeroDestinationsTwoNodes(t *testing.T) {
	b := testutil.NewLineage(base).
		Ingress("sub", "simple-report", 1, 201).
		Child("route", "sub", ir.ActionRoute, "", 0, time.Second)

	h, err := Builder{}.Build(b.Snapshot(t))
	require.NoError(t, err)
	assert.Equal(t, StatusNotDelivering, h.OverallStatus)
	assert.Empty(t, h.Destinations)
}

func TestBuild_ReceivedWhileRouting(t *testing.T) {
	b := testutil.NewLineage(base).Ingress("sub", "simple-report", 1, 201)

	h, err := Builder{}.Build(b.Snapshot(t))
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, h.OverallStatus)
}

func TestBuild_PartiallyDelivered(t *testing.T) {
	b := testutil.NewLineage(base)
	b.Ingress("sub", "simple-report", 3, 201).
		Child("co", "sub", ir.ActionTranslate, "co-phd.elr", 1, time.Second,
			testutil.WithNext(ir.ActionBatch, b.AtPtr(time.Minute))).
		Child("co-sent", "co", ir.ActionSend, "co-phd.elr", 1, 2*time.Minute,
			testutil.WithTransportResult("ok")).
		Child("full", "sub", ir.ActionTranslate, "co-phd.full-elr", 2, time.Second,
			testutil.WithNext(ir.ActionBatch, b.AtPtr(time.Hour)))

	h, err := Builder{Settings: testSettings(t)}.Build(b.Snapshot(t))
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyDelivered, h.OverallStatus)
	assert.Equal(t, 2, h.DestinationCount)
	require.NotNil(t, h.PlannedCompletionAt)
	assert.Equal(t, at(time.Hour), *h.PlannedCompletionAt)
	assert.Nil(t, h.ActualCompletionAt)
}

func TestBuild_ErrorsHideID(t *testing.T) {
	b := testutil.NewLineage(base).
		Ingress("sub", "simple-report", 1, 400).
		Log(ir.ActionLogEntry{ReportID: "sub", Scope: ir.ScopeReport, Level: ir.LevelError, Message: "unparseable"}).
		Log(ir.ActionLogEntry{ReportID: "sub", Scope: ir.ScopeInternal, Level: ir.LevelError, Message: "stack"})

	h, err := Builder{}.Build(b.Snapshot(t))
	require.NoError(t, err)

	assert.Nil(t, h.ID)
	assert.Equal(t, "sub", h.SubmissionID)
	assert.Equal(t, StatusError, h.OverallStatus)
	assert.Equal(t, 1, h.ErrorCount, "internal logs are not sender-facing")
	require.Len(t, h.Errors, 1)
	assert.Equal(t, "unparseable", h.Errors[0].Message)
	assert.Empty(t, h.Warnings)
}

func TestBuild_ValidationOnly(t *testing.T) {
	b := testutil.NewLineage(base).Ingress("sub", "simple-report", 1, 200)

	h, err := Builder{ValidationOnly: true}.Build(b.Snapshot(t))
	require.NoError(t, err)
	assert.Equal(t, StatusValid, h.OverallStatus)
	require.NotNil(t, h.ID)
}

func TestBuild_Idempotent(t *testing.T) {
	snap := deliveredLineage().Snapshot(t)
	builder := Builder{Settings: testSettings(t)}

	first, err := builder.Build(snap)
	require.NoError(t, err)
	second, err := builder.Build(snap)
	require.NoError(t, err)

	assert.Equal(t, ir.MustMarshalCanonical(first), ir.MustMarshalCanonical(second))
}

func TestBuild_MissingRoot(t *testing.T) {
	g, err := lineage.New(nil, nil)
	require.NoError(t, err)

	_, err = Builder{}.Build(lineage.Snapshot{RootID: "nope", Graph: g})
	assert.ErrorIs(t, err, lineage.ErrNoIngress)
}

func TestBuild_SharedBatchDeliversEachSubmission(t *testing.T) {
	b := testutil.NewLineage(base)
	b.Ingress("sub-a", "simple-report", 1, 201).
		Ingress("sub-b", "simple-report", 1, 201).
		Child("xlate-a", "sub-a", ir.ActionTranslate, "co-phd.elr", 1, time.Second).
		Child("xlate-b", "sub-b", ir.ActionTranslate, "co-phd.elr", 1, time.Second).
		Child("batch", "xlate-a", ir.ActionBatch, "co-phd.elr", 2, time.Minute).
		Edge("xlate-b", "batch").
		Child("send", "batch", ir.ActionSend, "co-phd.elr", 2, 2*time.Minute,
			testutil.WithTransportResult("sftp ok"))

	subs := b.Submissions(t)
	require.Len(t, subs, 2)
	builder := Builder{Settings: testSettings(t)}
	for i, want := range []string{"sub-a", "sub-b"} {
		h, err := builder.Build(subs[i])
		require.NoError(t, err)
		assert.Equal(t, want, h.SubmissionID)
		assert.Equal(t, StatusDelivered, h.OverallStatus)
	}
}
