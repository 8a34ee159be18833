// Package server exposes the pipeline over HTTP and WebSocket
package server

// Server configuration constants
const (
	// Events pending fanout; new events are dropped when full.
	EventBufferSize = 256

	// Cap on segment history returned by a single API call.
	SegmentPageLimit = 1000
)
