package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realDest(items int, sent ...ReportRef) Destination {
	return Destination{
		OrganizationID:    "co-phd",
		Service:           "elr",
		ItemCount:         items,
		SentReports:       sent,
		DownloadedReports: []ReportRef{},
	}
}

func TestCalculateStatus_IntakeFailureIsError(t *testing.T) {
	for _, code := range []int{0, 400, 500} {
		res := CalculateStatus(StatusInput{IntakeStatus: code, ValidationOnly: true})
		assert.Equal(t, StatusError, res.Status, "intake %d", code)
	}
}

func TestCalculateStatus_ValidationOnly(t *testing.T) {
	res := CalculateStatus(StatusInput{IntakeStatus: 200, ValidationOnly: true})
	assert.Equal(t, StatusValid, res.Status)
	assert.Nil(t, res.PlannedCompletionAt)
	assert.Nil(t, res.ActualCompletionAt)
}

func TestCalculateStatus_NoDestinations(t *testing.T) {
	// Two nodes, nothing scheduled: routing finished with nowhere to go.
	res := CalculateStatus(StatusInput{IntakeStatus: 201, NodeCount: 2})
	assert.Equal(t, StatusNotDelivering, res.Status)

	res = CalculateStatus(StatusInput{IntakeStatus: 201, NodeCount: 1})
	assert.Equal(t, StatusReceived, res.Status, "still only the ingress node")

	res = CalculateStatus(StatusInput{IntakeStatus: 201, NodeCount: 2, NextActionScheduled: true})
	assert.Equal(t, StatusReceived, res.Status)
}

func TestCalculateStatus_OnlyFilteredDestinations(t *testing.T) {
	dests := []Destination{realDest(0)}

	res := CalculateStatus(StatusInput{IntakeStatus: 201, Destinations: dests, NodeCount: 3})
	assert.Equal(t, StatusNotDelivering, res.Status)

	res = CalculateStatus(StatusInput{IntakeStatus: 201, Destinations: dests, NodeCount: 3, LatestHasNextAction: true})
	assert.Equal(t, StatusReceived, res.Status)
}

func TestCalculateStatus_Delivered(t *testing.T) {
	sentAt := at(90 * time.Second)
	d := realDest(10, ReportRef{ReportID: "s", CreatedAt: sentAt, ItemCount: 10})
	d.SendingAt = atPtr(time.Minute)

	res := CalculateStatus(StatusInput{IntakeStatus: 201, Destinations: []Destination{d}, NodeCount: 4})
	assert.Equal(t, StatusDelivered, res.Status)
	require.NotNil(t, res.ActualCompletionAt)
	assert.Equal(t, sentAt, *res.ActualCompletionAt)
	require.NotNil(t, res.PlannedCompletionAt)
	assert.Equal(t, at(time.Minute), *res.PlannedCompletionAt)
}

func TestCalculateStatus_PartiallyDelivered(t *testing.T) {
	done := realDest(3, ReportRef{ReportID: "s", CreatedAt: at(time.Minute), ItemCount: 3})
	waiting := realDest(4)
	waiting.OrganizationID = "md-phd"
	waiting.SendingAt = atPtr(time.Hour)

	res := CalculateStatus(StatusInput{IntakeStatus: 201, Destinations: []Destination{done, waiting}, NodeCount: 5})
	assert.Equal(t, StatusPartiallyDelivered, res.Status)
	assert.Nil(t, res.ActualCompletionAt)
	require.NotNil(t, res.PlannedCompletionAt)
	assert.Equal(t, at(time.Hour), *res.PlannedCompletionAt)
}

func TestCalculateStatus_WaitingToDeliver(t *testing.T) {
	partial := realDest(10, ReportRef{ReportID: "s", CreatedAt: at(time.Minute), ItemCount: 4})
	res := CalculateStatus(StatusInput{IntakeStatus: 201, Destinations: []Destination{partial}, NodeCount: 3})
	assert.Equal(t, StatusWaitingToDeliver, res.Status)
	assert.Nil(t, res.PlannedCompletionAt, "no transport schedule known")
}

func TestCalculateStatus_DownloadsCountAsDelivery(t *testing.T) {
	d := realDest(2)
	d.DownloadedReports = []ReportRef{{ReportID: "d", CreatedAt: at(time.Hour), ItemCount: 2}}

	res := CalculateStatus(StatusInput{IntakeStatus: 200, Destinations: []Destination{d}, NodeCount: 3})
	assert.Equal(t, StatusDelivered, res.Status)
	assert.Equal(t, at(time.Hour), *res.ActualCompletionAt)
}

func TestCalculateStatus_SentAndDownloadedDoNotCombine(t *testing.T) {
	d := realDest(10, ReportRef{ReportID: "s", CreatedAt: at(time.Minute), ItemCount: 5})
	d.DownloadedReports = []ReportRef{{ReportID: "d", CreatedAt: at(time.Hour), ItemCount: 5}}

	res := CalculateStatus(StatusInput{IntakeStatus: 201, Destinations: []Destination{d}, NodeCount: 4})
	assert.Equal(t, StatusWaitingToDeliver, res.Status)
	assert.Nil(t, res.ActualCompletionAt)
}

func TestCalculateStatus_Idempotent(t *testing.T) {
	d := realDest(10, ReportRef{ReportID: "s", CreatedAt: at(time.Minute), ItemCount: 10})
	in := StatusInput{IntakeStatus: 201, Destinations: []Destination{d}, NodeCount: 3}

	first := CalculateStatus(in)
	second := CalculateStatus(in)
	assert.Equal(t, first, second)
}

func TestStatus_JSONUsesPrintableNames(t *testing.T) {
	data, err := json.Marshal(StatusPartiallyDelivered)
	require.NoError(t, err)
	assert.Equal(t, `"Partially Delivered"`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"Not Delivering"`), &s))
	assert.Equal(t, StatusNotDelivering, s)

	require.NoError(t, json.Unmarshal([]byte(`"DELIVERED"`), &s))
	assert.Equal(t, StatusDelivered, s)

	assert.Error(t, json.Unmarshal([]byte(`"Lost"`), &s))
	assert.Equal(t, "Waiting to Deliver", StatusWaitingToDeliver.String())
}
