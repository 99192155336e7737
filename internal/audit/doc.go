// Package audit defines the audit event model and its sinks.
//
// # Components
//
//   - [Event]: structured audit record with timestamp, type, user, email, IP and metadata.
//   - [Sink]: interface for event consumers (channel, JSON writer, zap logger, no-op).
//
// Buffering lives in the outbox package; this package only shapes and writes
// events. It does NOT decide which events to emit, and must not import
// credflow or any sibling internal package.
package audit
