// Package audio provides the producer/consumer hand-off between the
// capture callback and the processing loop, plus sample-level utilities.
package audio

import (
	"sync"
	"sync/atomic"
)

// Chunk is one block of captured samples. The producer owns it until
// pushed, the queue until popped.
type Chunk struct {
	Samples    []int16
	SampleRate int
	Seq        uint64
}

// Queue is the single synchronization point between the audio producer
// and the processing loop. Push never blocks; when processing falls
// behind the consumer drops the oldest chunks on its next Pop, trading
// completeness for freshness the way real capture hardware does.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	chunks  []Chunk
	bound   int
	stopped bool
	nextSeq uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue that starts dropping oldest chunks once more
// than bound of them are waiting.
func NewQueue(bound int) *Queue {
	if bound <= 0 {
		bound = 1
	}
	q := &Queue{bound: bound}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a copy of samples. It is O(1) amortized, never waits on
// the consumer, and fails only after Stop. Safe to call from the audio
// callback.
func (q *Queue) Push(samples []int16, sampleRate int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}

	q.chunks = append(q.chunks, Chunk{
		Samples:    append([]int16(nil), samples...),
		SampleRate: sampleRate,
		Seq:        q.nextSeq,
	})
	q.nextSeq++
	q.cond.Signal()
	return true
}

// Pop blocks until a chunk is available or the queue is stopped. It
// returns false only when the queue is stopped and drained. If the
// backlog exceeded the bound, the oldest excess chunks are discarded
// here and counted.
func (q *Queue) Pop() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.chunks) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if len(q.chunks) == 0 {
		return Chunk{}, false
	}

	if excess := len(q.chunks) - q.bound; excess > 0 {
		q.chunks = q.chunks[excess:]
		q.dropped.Add(uint64(excess))
	}

	chunk := q.chunks[0]
	q.chunks = q.chunks[1:]
	return chunk, true
}

// Stop wakes any blocked consumer and rejects further pushes. Idempotent.
// Chunks already queued remain poppable so no accepted audio is lost.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len returns the number of waiting chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Dropped returns how many chunks were discarded by the catch-up policy.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
