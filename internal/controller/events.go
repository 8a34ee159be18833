package controller

import "sync"

// State is the controller lifecycle state machine.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Segment is one piece of speaker-attributed text. Start and End are
// milliseconds since session start. Once emitted a segment's text and
// times never change; only Speaker may be revised by the final
// reclassification pass, which also sets Final.
type Segment struct {
	ID      uint64 `json:"id"`
	Text    string `json:"text"`
	Start   int64  `json:"start_ms"`
	End     int64  `json:"end_ms"`
	Speaker int    `json:"speaker"`
	Final   bool   `json:"final"`
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	State             State   `json:"state"`
	ElapsedMS         int64   `json:"elapsed_ms"`
	WindowsProcessed  uint64  `json:"windows_processed"`
	SegmentsEmitted   uint64  `json:"segments_emitted"`
	Reclassifications uint64  `json:"reclassifications"`
	RealtimeFactor    float64 `json:"realtime_factor"`
	QueueDepth        int     `json:"queue_depth"`
	DroppedChunks     uint64  `json:"dropped_chunks"`
}

// Reclassification reports segments whose speaker changed during the
// final re-clustering pass.
type Reclassification struct {
	SegmentIDs []uint64 `json:"segment_ids"`
	Old        int      `json:"old_speaker"`
	New        int      `json:"new_speaker"`
}

type (
	SegmentFunc          func(Segment)
	StatusFunc           func(Status)
	ErrorFunc            func(error)
	ReclassificationFunc func(Reclassification)
	StatsFunc            func([]SpeakerStats)
)

// subscribers is the callback registry. Callbacks run outside the lock
// so a slow subscriber cannot deadlock registration.
type subscribers struct {
	mu      sync.Mutex
	segment []SegmentFunc
	status  []StatusFunc
	err     []ErrorFunc
	reclass []ReclassificationFunc
	stats   []StatsFunc
}

func (s *subscribers) notifySegment(seg Segment) {
	s.mu.Lock()
	fns := append([]SegmentFunc(nil), s.segment...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(seg)
	}
}

func (s *subscribers) notifyStatus(st Status) {
	s.mu.Lock()
	fns := append([]StatusFunc(nil), s.status...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *subscribers) notifyError(err error) {
	s.mu.Lock()
	fns := append([]ErrorFunc(nil), s.err...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (s *subscribers) notifyReclass(r Reclassification) {
	s.mu.Lock()
	fns := append([]ReclassificationFunc(nil), s.reclass...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

func (s *subscribers) notifyStats(stats []SpeakerStats) {
	s.mu.Lock()
	fns := append([]StatsFunc(nil), s.stats...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(stats)
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segment = nil
	s.status = nil
	s.err = nil
	s.reclass = nil
	s.stats = nil
}
