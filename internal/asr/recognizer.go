// Package asr abstracts the speech recognition capability. The engine
// itself is external; the pipeline only needs timestamped text back for
// a buffer of samples.
package asr

import "context"

// Span is one recognized region of text. Timestamps are milliseconds
// relative to the start of the buffer passed to Recognize; the caller
// rebases them to absolute session time. Spans carry no speaker
// information.
type Span struct {
	Text string
	T0   int64
	T1   int64
}

// Recognizer converts a sample buffer into ordered text spans.
type Recognizer interface {
	Recognize(ctx context.Context, samples []int16, sampleRate int) ([]Span, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, samples []int16, sampleRate int) ([]Span, error)

func (f RecognizerFunc) Recognize(ctx context.Context, samples []int16, sampleRate int) ([]Span, error) {
	return f(ctx, samples, sampleRate)
}
