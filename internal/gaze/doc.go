// Package gaze is the client runtime of the tracker protocol.
//
// Ownership boundary:
// - session activation/deactivation with bounded retries
// - reply dispatch and cached state reconciliation
// - calibration process state machine
// - listener registries and isolated notification delivery
//
// A Manager owns one session. Replies arrive from the transport on
// HandleResponse and are processed on their own goroutines; listeners are
// notified only when cached state actually changes.
package gaze
