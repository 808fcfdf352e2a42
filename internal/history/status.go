package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the overall delivery state of a submission.
type Status string

const (
	StatusValid              Status = "VALID"
	StatusError              Status = "ERROR"
	StatusReceived           Status = "RECEIVED"
	StatusNotDelivering      Status = "NOT_DELIVERING"
	StatusWaitingToDeliver   Status = "WAITING_TO_DELIVER"
	StatusPartiallyDelivered Status = "PARTIALLY_DELIVERED"
	StatusDelivered          Status = "DELIVERED"
)

var printableStatus = map[Status]string{
	StatusValid:              "Valid",
	StatusError:              "Error",
	StatusReceived:           "Received",
	StatusNotDelivering:      "Not Delivering",
	StatusWaitingToDeliver:   "Waiting to Deliver",
	StatusPartiallyDelivered: "Partially Delivered",
	StatusDelivered:          "Delivered",
}

// String returns the human-readable name used in rendered output.
func (s Status) String() string {
	if p, ok := printableStatus[s]; ok {
		return p
	}
	return string(s)
}

// MarshalJSON encodes the printable name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the printable name or the constant name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for st, p := range printableStatus {
		if raw == p || raw == string(st) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", raw)
}

// intakeAccepted reports whether an intake HTTP status means the submission
// was accepted.
func intakeAccepted(code int) bool {
	return code == 200 || code == 201
}

// StatusInput is everything the status rules look at.
type StatusInput struct {
	IntakeStatus int
	Destinations []Destination
	// NodeCount is the number of nodes in the submission's lineage,
	// including the ingress node.
	NodeCount int
	// NextActionScheduled is true when a leaf of the lineage still expects
	// an action.
	NextActionScheduled bool
	// LatestHasNextAction is true when the most recently created node still
	// expects an action.
	LatestHasNextAction bool
	ValidationOnly      bool
}

// StatusResult is the computed status with its completion timestamps.
type StatusResult struct {
	Status              Status
	PlannedCompletionAt *time.Time
	ActualCompletionAt  *time.Time
}

// CalculateStatus applies the status rules in order; the first match wins.
func CalculateStatus(in StatusInput) StatusResult {
	switch {
	case !intakeAccepted(in.IntakeStatus):
		return StatusResult{Status: StatusError}
	case in.ValidationOnly:
		return StatusResult{Status: StatusValid}
	case len(in.Destinations) == 0:
		if in.NodeCount > 1 && !in.NextActionScheduled {
			return StatusResult{Status: StatusNotDelivering}
		}
		return StatusResult{Status: StatusReceived}
	}

	delivering := RealDestinations(in.Destinations)
	if len(delivering) == 0 {
		if in.NextActionScheduled || in.LatestHasNextAction {
			return StatusResult{Status: StatusReceived}
		}
		return StatusResult{Status: StatusNotDelivering}
	}

	finished := 0
	for _, d := range delivering {
		if finishedDelivery(d) {
			finished++
		}
	}

	res := StatusResult{PlannedCompletionAt: plannedCompletion(delivering)}
	switch {
	case finished == 0:
		res.Status = StatusWaitingToDeliver
	case finished < len(delivering):
		res.Status = StatusPartiallyDelivered
	default:
		res.Status = StatusDelivered
		res.ActualCompletionAt = actualCompletion(delivering)
	}
	return res
}

// finishedDelivery reports whether the sent reports alone, or the
// downloaded reports alone, cover the destination's items. Partial sends
// and partial downloads do not add up.
func finishedDelivery(d Destination) bool {
	return itemTotal(d.SentReports) >= d.ItemCount || itemTotal(d.DownloadedReports) >= d.ItemCount
}

func itemTotal(refs []ReportRef) int {
	var n int
	for _, r := range refs {
		n += r.ItemCount
	}
	return n
}

// plannedCompletion is the latest scheduled send across destinations.
func plannedCompletion(dests []Destination) *time.Time {
	var latest *time.Time
	for _, d := range dests {
		if d.SendingAt != nil && (latest == nil || d.SendingAt.After(*latest)) {
			t := *d.SendingAt
			latest = &t
		}
	}
	return latest
}

// actualCompletion is the latest delivery record across destinations.
func actualCompletion(dests []Destination) *time.Time {
	var latest *time.Time
	for _, d := range dests {
		for _, refs := range [][]ReportRef{d.SentReports, d.DownloadedReports} {
			for _, r := range refs {
				if latest == nil || r.CreatedAt.After(*latest) {
					t := r.CreatedAt
					latest = &t
				}
			}
		}
	}
	return latest
}
