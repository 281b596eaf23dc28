// Package protocol owns the tracker wire contract and parsing primitives.
//
// Ownership boundary:
// - categories, request kinds, keys and status codes
// - request/response envelope shapes
// - tracker, calibration and gaze frame value shapes
// - line-delimited JSON codec
package protocol
