// Package controller runs the streaming transcription pipeline: a
// bounded ingest queue feeding a single processing loop that slides an
// overlapping recognition window, attributes recognized text to speaker
// identities via fixed-cadence embedding frames, and emits ordered,
// non-overlapping segments to subscribers.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pzarzycki/livescribe/internal/asr"
	"github.com/pzarzycki/livescribe/internal/audio"
	"github.com/pzarzycki/livescribe/internal/diar"
	"github.com/pzarzycki/livescribe/internal/errors"
	"github.com/pzarzycki/livescribe/internal/syncx"
	"github.com/pzarzycki/livescribe/internal/trace"
)

// Config tunes the sliding window. Durations are whole seconds to keep
// all sample math exact at the canonical rate.
type Config struct {
	SampleRate       int
	WindowSeconds    int
	OverlapSeconds   int
	SilenceFloorDBFS float64
	QueueBound       int
	HistoryCap       int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 10
	}
	if c.OverlapSeconds <= 0 {
		c.OverlapSeconds = 5
	}
	if c.SilenceFloorDBFS == 0 {
		c.SilenceFloorDBFS = -55
	}
	if c.QueueBound <= 0 {
		c.QueueBound = 500
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 10000
	}
	return c
}

// history is the externally readable segment store. Written only by the
// processing loop, snapshotted by readers.
type history struct {
	segments []Segment
	stats    map[int]SpeakerStats
}

// Controller owns the processing loop and all pipeline state. Audio
// producers call AddAudio from any goroutine; everything else downstream
// of the queue runs on the single loop goroutine.
type Controller struct {
	cfg        Config
	recognizer asr.Recognizer
	analyzer   *diar.FrameAnalyzer
	clusterer  *diar.Clusterer

	queue *audio.Queue
	subs  subscribers

	state   *syncx.RWGuard[State]
	hist    *syncx.RWGuard[history]
	paused  atomic.Bool
	done    chan struct{}
	stopOne sync.Once

	segmentsEmitted  atomic.Uint64
	reclassified     atomic.Uint64
	audioMS          atomic.Int64
	procNanos        atomic.Int64
	windowsProcessed atomic.Uint64

	// Loop-owned sliding window state. Never touched off the loop
	// goroutine.
	buffer           []int16
	bufferStartMS    int64
	held             []Segment
	lastEmittedEndMS int64
	nextID           uint64
}

// New builds a controller around a recognizer and a diarization
// pipeline. The clusterer must be the same instance the analyzer
// assigns with, so the final re-clustering pass relabels the frames the
// segments were voted from.
func New(recognizer asr.Recognizer, analyzer *diar.FrameAnalyzer, clusterer *diar.Clusterer, cfg Config) (*Controller, error) {
	if recognizer == nil {
		return nil, errors.New(errors.CodeConfig, "recognizer is required")
	}
	if analyzer == nil || clusterer == nil {
		return nil, errors.New(errors.CodeConfig, "diarization pipeline is required")
	}
	cfg = cfg.withDefaults()
	if cfg.OverlapSeconds >= cfg.WindowSeconds {
		return nil, errors.Newf(errors.CodeConfig, "overlap %ds must be shorter than window %ds",
			cfg.OverlapSeconds, cfg.WindowSeconds)
	}
	return &Controller{
		cfg:        cfg,
		recognizer: recognizer,
		analyzer:   analyzer,
		clusterer:  clusterer,
		queue:      audio.NewQueue(cfg.QueueBound),
		state:      syncx.NewGuard(StateIdle),
		hist:       syncx.NewGuard(history{stats: make(map[int]SpeakerStats)}),
		nextID:     1,
	}, nil
}

func (c *Controller) windowSamples() int  { return c.cfg.WindowSeconds * c.cfg.SampleRate }
func (c *Controller) overlapSamples() int { return c.cfg.OverlapSeconds * c.cfg.SampleRate }

// Start launches the processing loop. Valid only from idle.
func (c *Controller) Start(ctx context.Context) error {
	if cur := c.state.Get(); cur != StateIdle {
		return errors.Newf(errors.CodeConfig, "cannot start from state %s", cur)
	}
	c.state.Set(StateStarting)
	c.emitStatus()

	// Fresh session: new queue, clean window state, zeroed counters.
	c.queue = audio.NewQueue(c.cfg.QueueBound)
	c.buffer = nil
	c.bufferStartMS = 0
	c.windowsProcessed.Store(0)
	c.held = nil
	c.lastEmittedEndMS = 0
	c.analyzer.Reset()
	c.paused.Store(false)
	c.segmentsEmitted.Store(0)
	c.reclassified.Store(0)
	c.audioMS.Store(0)
	c.procNanos.Store(0)

	c.done = make(chan struct{})
	c.stopOne = sync.Once{}
	go c.run(ctx)

	c.state.Set(StateRunning)
	c.emitStatus()
	return nil
}

// Stop drains the queue, flushes held and tail audio, runs the final
// re-clustering pass, and returns once the loop has exited. Safe to
// call more than once.
func (c *Controller) Stop() {
	cur := c.state.Get()
	if cur == StateIdle || cur == StateStarting {
		return
	}
	if cur != StateError {
		c.state.Set(StateStopping)
		c.emitStatus()
	}
	c.stopOne.Do(c.queue.Stop)
	<-c.done
	if c.state.Get() != StateError {
		c.state.Set(StateIdle)
	}
	c.emitStatus()
}

// Pause stops accepting input without tearing the pipeline down.
// Audio arriving while paused is dropped at the door.
func (c *Controller) Pause() bool {
	if c.state.Get() != StateRunning {
		return false
	}
	c.paused.Store(true)
	c.state.Set(StatePaused)
	c.emitStatus()
	return true
}

// Resume reverses Pause.
func (c *Controller) Resume() bool {
	if c.state.Get() != StatePaused {
		return false
	}
	c.paused.Store(false)
	c.state.Set(StateRunning)
	c.emitStatus()
	return true
}

// AddAudio hands a sample block to the pipeline. It never blocks.
// Returns false if the audio was not accepted (paused or not running).
func (c *Controller) AddAudio(samples []int16, sampleRate int) bool {
	if c.paused.Load() {
		return false
	}
	switch c.state.Get() {
	case StateRunning, StateStarting:
	default:
		return false
	}
	return c.queue.Push(samples, sampleRate)
}

// ReportError publishes an error from an external collaborator, usually
// the audio source. A fatal error is an implicit stop request: the
// queue closes, the loop flushes and exits, and the controller lands in
// the error state.
func (c *Controller) ReportError(err error) {
	if err == nil {
		return
	}
	c.subs.notifyError(err)
	if errors.IsFatal(err) {
		c.state.Set(StateError)
		c.emitStatus()
		c.stopOne.Do(c.queue.Stop)
	}
}

// OnSegment registers a segment subscriber.
func (c *Controller) OnSegment(fn SegmentFunc) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.segment = append(c.subs.segment, fn)
}

// OnStatus registers a status subscriber.
func (c *Controller) OnStatus(fn StatusFunc) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.status = append(c.subs.status, fn)
}

// OnError registers an error subscriber.
func (c *Controller) OnError(fn ErrorFunc) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.err = append(c.subs.err, fn)
}

// OnReclassification registers a reclassification subscriber.
func (c *Controller) OnReclassification(fn ReclassificationFunc) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.reclass = append(c.subs.reclass, fn)
}

// OnSpeakerStats registers a subscriber for per-speaker summary changes.
func (c *Controller) OnSpeakerStats(fn StatsFunc) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.stats = append(c.subs.stats, fn)
}

// ClearSubscriptions drops all subscribers.
func (c *Controller) ClearSubscriptions() { c.subs.clear() }

// Segments returns a copy of the emitted-segment history.
func (c *Controller) Segments() []Segment {
	return syncx.Read(c.hist, func(h history) []Segment {
		return append([]Segment(nil), h.segments...)
	})
}

// SegmentByID looks a segment up in the history.
func (c *Controller) SegmentByID(id uint64) (Segment, bool) {
	var seg Segment
	found := syncx.Read(c.hist, func(h history) bool {
		for _, s := range h.segments {
			if s.ID == id {
				seg = s
				return true
			}
		}
		return false
	})
	return seg, found
}

// ClearHistory drops all emitted segments and speaker stats. Timestamps
// keep advancing; only the record is cleared.
func (c *Controller) ClearHistory() {
	c.hist.Set(history{stats: make(map[int]SpeakerStats)})
}

// SpeakerStats returns the per-speaker summary in identity order.
func (c *Controller) SpeakerStats() []SpeakerStats {
	return syncx.Read(c.hist, func(h history) []SpeakerStats {
		return sortedStats(h.stats)
	})
}

// SpeakerCount returns the number of minted identities.
func (c *Controller) SpeakerCount() int {
	return syncx.Read(c.hist, func(h history) int { return len(h.stats) })
}

// Status snapshots the pipeline.
func (c *Controller) Status() Status {
	audioMS := c.audioMS.Load()
	rtf := 0.0
	if audioMS > 0 {
		rtf = float64(c.procNanos.Load()) / float64(time.Duration(audioMS)*time.Millisecond)
	}
	return Status{
		State:             c.state.Get(),
		ElapsedMS:         audioMS,
		WindowsProcessed:  c.windowsProcessed.Load(),
		SegmentsEmitted:   c.segmentsEmitted.Load(),
		Reclassifications: c.reclassified.Load(),
		RealtimeFactor:    rtf,
		QueueDepth:        c.queue.Len(),
		DroppedChunks:     c.queue.Dropped(),
	}
}

func (c *Controller) emitStatus() { c.subs.notifyStatus(c.Status()) }

// run is the processing loop. Single goroutine; owns the sliding
// buffer, the analyzer, and the clusterer.
func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	ctx, _ = trace.EnsureContext(ctx)
	log := trace.Logger(ctx)
	log.Info("processing loop started",
		"window_s", c.cfg.WindowSeconds,
		"overlap_s", c.cfg.OverlapSeconds)

	for {
		chunk, ok := c.queue.Pop()
		if !ok {
			break
		}
		samples := chunk.Samples
		if chunk.SampleRate != c.cfg.SampleRate {
			samples = audio.Resample(samples, chunk.SampleRate, c.cfg.SampleRate)
		}
		c.buffer = append(c.buffer, samples...)
		c.audioMS.Add(int64(len(samples)) * 1000 / int64(c.cfg.SampleRate))

		// The analyzer keeps its own ring; this copy-free forward never
		// mutates recognition state.
		c.analyzer.AddAudio(samples)

		if len(c.buffer) >= c.windowSamples() {
			c.processBuffer(ctx)
		}
	}

	c.flush(ctx)
	log.Info("processing loop stopped",
		"segments", c.segmentsEmitted.Load(),
		"dropped_chunks", c.queue.Dropped())
}

// processBuffer runs one window pass: emit held, recognize the new
// region, hold-or-emit each span, slide.
func (c *Controller) processBuffer(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "window")
	defer span.End()
	span.SetAttr("window", c.windowsProcessed.Load())

	c.emitHeld()

	// Everything before the kept overlap was recognized last pass.
	skip := 0
	if c.windowsProcessed.Load() > 0 {
		skip = min(c.overlapSamples(), len(c.buffer))
	}
	newAudio := c.buffer[skip:]

	if len(newAudio) < c.cfg.SampleRate {
		c.slide()
		return
	}
	if dbfs := audio.RMSdBFS(newAudio); dbfs <= c.cfg.SilenceFloorDBFS {
		span.SetAttr("silent_dbfs", dbfs)
		c.slide()
		return
	}

	newStartMS := c.bufferStartMS + int64(skip)*1000/int64(c.cfg.SampleRate)

	start := time.Now()
	spans, err := c.recognizer.Recognize(ctx, newAudio, c.cfg.SampleRate)
	c.procNanos.Add(time.Since(start).Nanoseconds())
	if err != nil {
		// One lost window is recoverable: the kept overlap means the
		// next pass sees most of this audio again.
		c.subs.notifyError(errors.Wrap(err, errors.CodeRecognition, "window recognition failed"))
		c.slide()
		return
	}
	c.windowsProcessed.Add(1)

	// Spans ending past this boundary sit in the trailing overlap and
	// may still be refined by the next window's context.
	newDurS := len(newAudio) / c.cfg.SampleRate
	boundaryS := newDurS
	if newDurS > c.cfg.OverlapSeconds {
		boundaryS = newDurS - c.cfg.OverlapSeconds
	}
	boundaryMS := int64(boundaryS) * 1000

	for _, sp := range spans {
		if sp.Text == "" {
			continue
		}
		absStart := newStartMS + sp.T0
		absEnd := newStartMS + sp.T1
		if absEnd <= c.lastEmittedEndMS {
			continue
		}
		seg := Segment{
			Text:    sp.Text,
			Start:   absStart,
			End:     absEnd,
			Speaker: c.resolveSpeaker(absStart, absEnd),
		}
		if sp.T1 >= boundaryMS {
			c.held = append(c.held, seg)
		} else {
			c.emit(seg)
		}
	}

	c.slide()
}

// resolveSpeaker votes over the embedding frames overlapping a span.
func (c *Controller) resolveSpeaker(startMS, endMS int64) int {
	frames := c.analyzer.FramesInRange(startMS, endMS)
	return diar.Vote(frames)
}

// emit finalizes a segment into the history and notifies subscribers.
// Trims the start against the last emitted end so output never overlaps.
func (c *Controller) emit(seg Segment) {
	if seg.Start < c.lastEmittedEndMS {
		seg.Start = c.lastEmittedEndMS
	}
	if seg.Start >= seg.End {
		return
	}
	seg.ID = c.nextID
	c.nextID++
	c.lastEmittedEndMS = max(c.lastEmittedEndMS, seg.End)

	var stats []SpeakerStats
	c.hist.Write(func(h *history) {
		h.segments = append(h.segments, seg)
		if len(h.segments) > c.cfg.HistoryCap {
			h.segments = h.segments[len(h.segments)-c.cfg.HistoryCap:]
		}
		if seg.Speaker >= 0 {
			s := h.stats[seg.Speaker]
			s.Speaker = seg.Speaker
			s.SpeakingTimeMS += seg.End - seg.Start
			s.Segments++
			s.LastText = seg.Text
			h.stats[seg.Speaker] = s
			stats = sortedStats(h.stats)
		}
	})
	c.segmentsEmitted.Add(1)
	c.subs.notifySegment(seg)
	if stats != nil {
		c.subs.notifyStats(stats)
	}
}

func (c *Controller) emitHeld() {
	for _, seg := range c.held {
		c.emit(seg)
	}
	c.held = nil
}

// slide keeps the trailing overlap and advances the buffer clock.
func (c *Controller) slide() {
	overlap := c.overlapSamples()
	if len(c.buffer) > overlap {
		discard := len(c.buffer) - overlap
		c.bufferStartMS += int64(discard) * 1000 / int64(c.cfg.SampleRate)
		c.buffer = append(c.buffer[:0], c.buffer[discard:]...)
	} else {
		c.bufferStartMS += int64(len(c.buffer)) * 1000 / int64(c.cfg.SampleRate)
		c.buffer = c.buffer[:0]
	}
}

// flush runs once on shutdown: emit held, recognize the tail below the
// normal window trigger, then re-cluster the whole frame history and
// publish any speaker changes.
func (c *Controller) flush(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "flush")
	defer span.End()

	c.emitHeld()

	skip := 0
	if c.windowsProcessed.Load() > 0 {
		skip = min(c.overlapSamples(), len(c.buffer))
	}
	tail := c.buffer[skip:]

	// Half a second is the least audio worth a recognition call.
	if len(tail) >= c.cfg.SampleRate/2 && audio.RMSdBFS(tail) > c.cfg.SilenceFloorDBFS {
		tailStartMS := c.bufferStartMS + int64(skip)*1000/int64(c.cfg.SampleRate)

		start := time.Now()
		spans, err := c.recognizer.Recognize(ctx, tail, c.cfg.SampleRate)
		c.procNanos.Add(time.Since(start).Nanoseconds())
		if err != nil {
			c.subs.notifyError(errors.Wrap(err, errors.CodeRecognition, "flush recognition failed"))
		} else {
			for _, sp := range spans {
				if sp.Text == "" {
					continue
				}
				absStart := tailStartMS + sp.T0
				absEnd := tailStartMS + sp.T1
				if absEnd <= c.lastEmittedEndMS {
					continue
				}
				c.emit(Segment{
					Text:    sp.Text,
					Start:   absStart,
					End:     absEnd,
					Speaker: c.resolveSpeaker(absStart, absEnd),
				})
			}
		}
	}
	c.buffer = nil

	c.reclassify()
	c.emitStatus()
}

// reclassify runs the batch clustering pass over the full frame history
// and revises segment speakers where the refined labels disagree with
// the live ones. All segments become final afterwards.
func (c *Controller) reclassify() {
	frames := c.analyzer.Frames()
	if len(frames) > 0 {
		c.clusterer.ClusterFrames(frames)
	}

	type change struct{ old, new int }
	changes := make(map[change][]uint64)

	var stats []SpeakerStats
	c.hist.Write(func(h *history) {
		for i := range h.segments {
			seg := &h.segments[i]
			seg.Final = true
			if len(frames) == 0 {
				continue
			}
			revised := c.resolveSpeaker(seg.Start, seg.End)
			if revised != diar.SpeakerUnknown && revised != seg.Speaker {
				changes[change{seg.Speaker, revised}] = append(changes[change{seg.Speaker, revised}], seg.ID)
				seg.Speaker = revised
			}
		}
		if len(changes) > 0 {
			h.stats = buildStats(h.segments)
			stats = sortedStats(h.stats)
		}
	})

	for ch, ids := range changes {
		c.reclassified.Add(uint64(len(ids)))
		c.subs.notifyReclass(Reclassification{SegmentIDs: ids, Old: ch.old, New: ch.new})
	}
	if stats != nil {
		c.subs.notifyStats(stats)
	}
}
