// Package upstream implements the Upstream Feed Connector.
//
// The connector:
//   - Owns the single websocket connection to the SmartAPI smart-stream
//   - Sends a heartbeat after the handshake, then the subscription
//     fan-out (one frame per instrument and mode, staggered in time)
//   - Filters control frames and forwards data frames to the pipeline
//   - Self-heals with exponential capped backoff, penalizing upstream
//     rate-limit signals, and gives up after the retry budget
//
// Lifecycle transitions live in a pure state machine (machine.go) so
// backoff and retry policy are testable without a live socket; the
// supervisor goroutine in connector.go executes the commands the
// machine emits.
package upstream
