// Package queue carries dispatch messages from the batch decider to batch
// workers.
//
// Two transports are provided. Memory is an in-process delayed queue used by
// the CLI's single-process mode and by tests. Kafka writes each named queue
// to a topic of the same name and stamps the visibility time in a header,
// since Kafka has no native delayed delivery; consumers hold a message until
// it becomes visible.
//
// Delivery is at-least-once. A received message that is not acknowledged is
// delivered again, so handlers must be idempotent.
package queue
