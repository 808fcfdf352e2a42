package batch

import "fmt"

// Operations a ReceiverError can name.
const (
	OpReceiver   = "receiver"
	OpTiming     = "timing"
	OpCount      = "count"
	OpRecentSend = "recent_send"
	OpEncode     = "encode"
	OpEnqueue    = "enqueue"
	OpClaim      = "claim"
	OpDownload   = "download"
	OpMerge      = "merge"
	OpRecord     = "record"
)

// ReceiverError is a failure while deciding or batching for one receiver.
type ReceiverError struct {
	Receiver string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *ReceiverError) Error() string {
	return fmt.Sprintf("receiver %s: %s: %v", e.Receiver, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReceiverError) Unwrap() error {
	return e.Err
}
