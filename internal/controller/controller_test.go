package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pzarzycki/livescribe/internal/asr"
	"github.com/pzarzycki/livescribe/internal/diar"
)

// signEmbedder maps a window to one of two fixed vectors by the sign of
// its mean, giving two trivially separable synthetic voices.
type signEmbedder struct{}

func (signEmbedder) Embed(samples []int16, _ int) ([]float32, error) {
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	if sum >= 0 {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (signEmbedder) Dim() int { return 2 }

// countingRecognizer labels each call's audio with a distinct token and
// records how many samples each call saw.
type countingRecognizer struct {
	mu       sync.Mutex
	callLens []int
}

func (r *countingRecognizer) Recognize(_ context.Context, samples []int16, sampleRate int) ([]asr.Span, error) {
	r.mu.Lock()
	r.callLens = append(r.callLens, len(samples))
	call := len(r.callLens)
	r.mu.Unlock()
	durMS := int64(len(samples)) * 1000 / int64(sampleRate)
	return []asr.Span{{Text: fmt.Sprintf("call-%d", call), T0: 0, T1: durMS}}, nil
}

func (r *countingRecognizer) lens() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.callLens...)
}

// secondsRecognizer returns one span per whole second of input, so
// segment boundaries line up with the synthetic voice blocks.
func secondsRecognizer() asr.RecognizerFunc {
	return func(_ context.Context, samples []int16, sampleRate int) ([]asr.Span, error) {
		var spans []asr.Span
		for s := 0; (s+1)*sampleRate <= len(samples); s++ {
			spans = append(spans, asr.Span{
				Text: fmt.Sprintf("sec-%d", s),
				T0:   int64(s) * 1000,
				T1:   int64(s+1) * 1000,
			})
		}
		return spans, nil
	}
}

func constSamples(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newTestController(t *testing.T, rec asr.Recognizer, cfg Config) *Controller {
	t.Helper()
	clusterer := diar.NewClusterer(diar.ClustererConfig{})
	analyzer := diar.NewFrameAnalyzer(signEmbedder{}, clusterer, diar.AnalyzerConfig{
		SampleRate: 16000,
		HopMS:      250,
		WindowMS:   1000,
	}, nil)
	c, err := New(rec, analyzer, clusterer, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

// feed pushes audio in one-second blocks so the queue bound is never a
// factor, then stops the controller, which drains and flushes.
func feed(t *testing.T, c *Controller, samples []int16) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	for off := 0; off < len(samples); off += 16000 {
		end := min(off+16000, len(samples))
		if !c.AddAudio(samples[off:end], 16000) {
			t.Fatalf("AddAudio rejected at offset %d", off)
		}
	}
	c.Stop()
}

func TestConfigValidation(t *testing.T) {
	clusterer := diar.NewClusterer(diar.ClustererConfig{})
	analyzer := diar.NewFrameAnalyzer(signEmbedder{}, clusterer, diar.AnalyzerConfig{}, nil)

	if _, err := New(nil, analyzer, clusterer, Config{}); err == nil {
		t.Error("New(nil recognizer) = nil error, want error")
	}
	if _, err := New(&countingRecognizer{}, analyzer, clusterer,
		Config{WindowSeconds: 5, OverlapSeconds: 5}); err == nil {
		t.Error("New(overlap == window) = nil error, want error")
	}
	if _, err := New(&countingRecognizer{}, analyzer, clusterer,
		Config{WindowSeconds: 10, OverlapSeconds: 5}); err != nil {
		t.Errorf("New(valid config) error: %v", err)
	}
}

// Twelve seconds through a 10s window with 5s overlap: the window pass
// recognizes the full first window, the flush pass sees only the 2s
// tail, and no text repeats.
func TestWindowThenFlushTail(t *testing.T) {
	rec := &countingRecognizer{}
	c := newTestController(t, rec, Config{WindowSeconds: 10, OverlapSeconds: 5})

	feed(t, c, constSamples(12*16000, 100))

	lens := rec.lens()
	if len(lens) != 2 {
		t.Fatalf("recognizer calls = %d, want 2", len(lens))
	}
	if lens[0] != 10*16000 {
		t.Errorf("first call samples = %d, want %d", lens[0], 10*16000)
	}
	if lens[1] != 2*16000 {
		t.Errorf("flush call samples = %d, want %d", lens[1], 2*16000)
	}

	segs := c.Segments()
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2", len(segs))
	}
	if segs[0].Text != "call-1" || segs[0].Start != 0 || segs[0].End != 10000 {
		t.Errorf("segment 0 = %q [%d, %d], want call-1 [0, 10000]",
			segs[0].Text, segs[0].Start, segs[0].End)
	}
	if segs[1].Text != "call-2" || segs[1].Start != 10000 || segs[1].End != 12000 {
		t.Errorf("segment 1 = %q [%d, %d], want call-2 [10000, 12000]",
			segs[1].Text, segs[1].Start, segs[1].End)
	}

	seen := make(map[string]bool)
	for _, s := range segs {
		if seen[s.Text] {
			t.Errorf("duplicate text %q", s.Text)
		}
		seen[s.Text] = true
	}
}

// Silence below the floor slides the window without a recognition call
// and emits nothing.
func TestSilenceShortCircuit(t *testing.T) {
	rec := &countingRecognizer{}
	c := newTestController(t, rec, Config{WindowSeconds: 10, OverlapSeconds: 5})

	feed(t, c, make([]int16, 10*16000))

	if n := len(rec.lens()); n != 0 {
		t.Errorf("recognizer calls = %d, want 0 for silence", n)
	}
	if segs := c.Segments(); len(segs) != 0 {
		t.Errorf("segments = %d, want 0", len(segs))
	}
}

// Two synthetic voices in 4s blocks: output must be ordered,
// non-overlapping, fully attributed, and settle on exactly 2 speakers.
func TestAlternatingVoices(t *testing.T) {
	c := newTestController(t, secondsRecognizer(), Config{WindowSeconds: 4, OverlapSeconds: 2})

	var mu sync.Mutex
	var lastStats []SpeakerStats
	c.OnSpeakerStats(func(st []SpeakerStats) {
		mu.Lock()
		lastStats = st
		mu.Unlock()
	})

	voiceA := constSamples(4*16000, 100)
	voiceB := constSamples(4*16000, -100)
	feed(t, c, append(append([]int16(nil), voiceA...), voiceB...))

	segs := c.Segments()
	if len(segs) != 8 {
		t.Fatalf("segments = %d, want 8 one-second segments", len(segs))
	}

	for i, seg := range segs {
		if i > 0 && seg.Start < segs[i-1].End {
			t.Errorf("segment %d starts at %d before previous end %d", i, seg.Start, segs[i-1].End)
		}
		if !seg.Final {
			t.Errorf("segment %d not final after stop", i)
		}
		want := 0
		if seg.Start >= 4000 {
			want = 1
		}
		if seg.Speaker != want {
			t.Errorf("segment [%d, %d] speaker = %d, want %d", seg.Start, seg.End, seg.Speaker, want)
		}
	}

	if n := c.SpeakerCount(); n != 2 {
		t.Errorf("SpeakerCount() = %d, want 2", n)
	}

	stats := c.SpeakerStats()
	if len(stats) != 2 {
		t.Fatalf("SpeakerStats() = %d entries, want 2", len(stats))
	}
	for _, s := range stats {
		if s.SpeakingTimeMS != 4000 || s.Segments != 4 {
			t.Errorf("speaker %d stats = %dms/%d segments, want 4000ms/4",
				s.Speaker, s.SpeakingTimeMS, s.Segments)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lastStats) != 2 {
		t.Errorf("last stats event carried %d speakers, want 2", len(lastStats))
	}
}

// The same input through two fresh instances yields identical output.
func TestDeterministicReplay(t *testing.T) {
	samples := append(constSamples(6*16000, 100), constSamples(6*16000, -100)...)

	run := func() []Segment {
		c := newTestController(t, secondsRecognizer(), Config{WindowSeconds: 4, OverlapSeconds: 2})
		feed(t, c, samples)
		return c.Segments()
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("replay lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("segment %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

// A failed window is absorbed: the error surfaces as an event and the
// loop keeps going.
func TestRecognitionFailureAbsorbed(t *testing.T) {
	calls := 0
	rec := asr.RecognizerFunc(func(_ context.Context, samples []int16, sampleRate int) ([]asr.Span, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("model hiccup")
		}
		durMS := int64(len(samples)) * 1000 / int64(sampleRate)
		return []asr.Span{{Text: "recovered", T0: 0, T1: durMS}}, nil
	})

	c := newTestController(t, rec, Config{WindowSeconds: 4, OverlapSeconds: 2})

	var mu sync.Mutex
	var errs []error
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	feed(t, c, constSamples(6*16000, 100))

	mu.Lock()
	nErrs := len(errs)
	mu.Unlock()
	if nErrs != 1 {
		t.Errorf("error events = %d, want 1", nErrs)
	}
	if segs := c.Segments(); len(segs) == 0 {
		t.Error("no segments after recovery, want at least one")
	}
}

func TestPauseDropsInput(t *testing.T) {
	rec := &countingRecognizer{}
	c := newTestController(t, rec, Config{WindowSeconds: 10, OverlapSeconds: 5})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	if !c.Pause() {
		t.Fatal("Pause() = false, want true")
	}
	if c.AddAudio(constSamples(16000, 100), 16000) {
		t.Error("AddAudio accepted while paused")
	}
	if st := c.Status().State; st != StatePaused {
		t.Errorf("state = %s, want paused", st)
	}

	if !c.Resume() {
		t.Fatal("Resume() = false, want true")
	}
	if !c.AddAudio(constSamples(16000, 100), 16000) {
		t.Error("AddAudio rejected while running")
	}
}

func TestStateTransitions(t *testing.T) {
	c := newTestController(t, &countingRecognizer{}, Config{WindowSeconds: 10, OverlapSeconds: 5})

	if st := c.Status().State; st != StateIdle {
		t.Fatalf("initial state = %s, want idle", st)
	}
	if c.Pause() {
		t.Error("Pause() from idle = true, want false")
	}

	var mu sync.Mutex
	var states []State
	c.OnStatus(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start() = nil error, want error")
	}
	c.Stop()
	c.Stop() // idempotent

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateRunning, StateStopping, StateIdle}
	if len(states) < len(want) {
		t.Fatalf("status events = %v, want at least %v", states, want)
	}
	for i, st := range want[:2] {
		if states[i] != st {
			t.Errorf("status[%d] = %s, want %s", i, states[i], st)
		}
	}
	if last := states[len(states)-1]; last != StateIdle {
		t.Errorf("final state = %s, want idle", last)
	}
}

func TestSegmentQueries(t *testing.T) {
	c := newTestController(t, &countingRecognizer{}, Config{WindowSeconds: 10, OverlapSeconds: 5})
	feed(t, c, constSamples(12*16000, 100))

	segs := c.Segments()
	if len(segs) == 0 {
		t.Fatal("no segments emitted")
	}

	got, ok := c.SegmentByID(segs[0].ID)
	if !ok || got.Text != segs[0].Text {
		t.Errorf("SegmentByID(%d) = %+v, %v", segs[0].ID, got, ok)
	}
	if _, ok := c.SegmentByID(99999); ok {
		t.Error("SegmentByID(unknown) = true, want false")
	}

	st := c.Status()
	if st.ElapsedMS != 12000 {
		t.Errorf("ElapsedMS = %d, want 12000", st.ElapsedMS)
	}
	if st.SegmentsEmitted != uint64(len(segs)) {
		t.Errorf("SegmentsEmitted = %d, want %d", st.SegmentsEmitted, len(segs))
	}
	if st.WindowsProcessed != 1 {
		t.Errorf("WindowsProcessed = %d, want 1", st.WindowsProcessed)
	}

	c.ClearHistory()
	if len(c.Segments()) != 0 {
		t.Error("history not empty after ClearHistory")
	}
	if c.SpeakerCount() != 0 {
		t.Error("speaker stats not empty after ClearHistory")
	}
}

// Segment events arrive in emission order with non-decreasing ends.
func TestSubscriberOrdering(t *testing.T) {
	c := newTestController(t, secondsRecognizer(), Config{WindowSeconds: 4, OverlapSeconds: 2})

	var mu sync.Mutex
	var events []Segment
	c.OnSegment(func(seg Segment) {
		mu.Lock()
		events = append(events, seg)
		mu.Unlock()
	})

	feed(t, c, constSamples(8*16000, 100))

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("no segment events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].End < events[i-1].End {
			t.Errorf("event %d end %d before previous %d", i, events[i].End, events[i-1].End)
		}
		if events[i].ID <= events[i-1].ID {
			t.Errorf("event %d id %d not increasing", i, events[i].ID)
		}
	}
}
