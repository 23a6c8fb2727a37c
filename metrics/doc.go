// Package metrics exposes Prometheus collectors for sealbatch and the server
// that serves them.
//
// Collector implements both protocol.Observer and protocol.EventSink: every
// public operation is counted by outcome code, and every committed event by
// kind. Replayed and stale callbacks are counted separately as security
// alerts so that they can be alerted on without parsing logs.
package metrics
