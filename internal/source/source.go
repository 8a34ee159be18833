// Package source provides audio producers: live capture devices and
// WAV files replayed as a stream. A source pushes sample blocks into a
// callback and never blocks on downstream processing.
package source

import "context"

// Callback delivers one captured block. Samples are interleaved when
// channels > 1. The source retains no reference to the slice after the
// call returns.
type Callback func(samples []int16, sampleRate, channels int)

// ErrorFunc reports capture problems. A fatal error means the source
// cannot continue and the session should stop.
type ErrorFunc func(err error, fatal bool)

// Source produces audio from Start until Stop or a fatal error.
type Source interface {
	Start(ctx context.Context) error
	Stop()
}

// Device describes an available capture device.
type Device struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Channels int    `json:"channels"`
	Default  bool   `json:"default"`
}
