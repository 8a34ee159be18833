package asr

import (
	"context"
	"fmt"
	"sync"
)

// MockRecognizer returns one span per call covering the full buffer.
// Useful for wiring tests and for running the pipeline without a model.
type MockRecognizer struct {
	mu    sync.Mutex
	calls int
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

func (m *MockRecognizer) Recognize(_ context.Context, samples []int16, sampleRate int) ([]Span, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()

	if len(samples) == 0 || sampleRate <= 0 {
		return nil, nil
	}
	durMs := int64(len(samples)) * 1000 / int64(sampleRate)
	return []Span{{
		Text: fmt.Sprintf("[mock transcript %d, %dms]", n, durMs),
		T0:   0,
		T1:   durMs,
	}}, nil
}

// Calls returns how many times Recognize ran.
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
