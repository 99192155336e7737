// Package outbox provides the buffered async relay behind notification and
// audit delivery.
//
// A [Dispatcher] owns one worker goroutine. Callers enqueue without waiting
// on delivery; failures are logged and dropped. Retrying failed deliveries
// is the job of the sink (for example a durable queue behind it).
package outbox
