// Package batch decides when receivers get batches and turns dispatch
// messages into batch reports.
//
// The Decider runs once per scheduling tick. For every receiver whose batch
// window is open it counts the reports waiting for batch and enqueues enough
// dispatch messages to drain them at MaxReportCount reports per message,
// staggered so workers do not all wake at once. Nothing is locked between
// deciding and enqueueing; workers claim reports when they handle a message,
// so a duplicate message finds nothing left to claim.
//
// The Worker handles dispatch messages: it claims pending reports for the
// receiver and records batch reports derived from them.
package batch
