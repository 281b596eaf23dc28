// Package transport connects to a tracker server over line-delimited JSON on
// TCP, or over WebSocket text messages, and correlates replies with the
// requests that caused them.
package transport
