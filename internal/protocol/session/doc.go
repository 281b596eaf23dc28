// Package session owns client<->tracker session reliability helpers.
//
// Ownership boundary:
// - reliability defaults (connect/request timeouts, retries)
// - retry slicing for bounded activation
// - request correlation (Call one-shot, Pending table)
package session
