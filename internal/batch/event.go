package batch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/settings"
)

// Event is the dispatch message the decider enqueues for a batch worker.
type Event struct {
	ID         string        `json:"id"`
	Action     ir.ActionKind `json:"action"`
	Receiver   string        `json:"receiver"`
	EmptyBatch bool          `json:"empty_batch"`
	At         time.Time     `json:"at"`
}

// Encode returns the JSON wire form.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return b, nil
}

// DecodeEvent parses and checks a dispatch message.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Action != ir.ActionBatch {
		return Event{}, fmt.Errorf("decode event %s: unexpected action %q", e.ID, e.Action)
	}
	if _, _, ok := ir.SplitFullName(e.Receiver); !ok {
		return Event{}, fmt.Errorf("decode event %s: invalid receiver %q", e.ID, e.Receiver)
	}
	return e, nil
}

// QueueNames are the work queues dispatch messages go to.
type QueueNames struct {
	Legacy    string
	Universal string
}

// DefaultQueueNames match the config defaults.
var DefaultQueueNames = QueueNames{Legacy: "batch", Universal: "universal-batch"}

// For selects the queue for a receiver by the pipeline its topic runs on.
func (q QueueNames) For(r settings.Receiver) string {
	if r.Topic.IsUniversalPipeline() {
		return q.Universal
	}
	return q.Legacy
}
