package diar

import (
	"github.com/pzarzycki/livescribe/internal/errors"
	"github.com/pzarzycki/livescribe/internal/resilience"
)

// Frame is one fixed-cadence speaker observation. Start and End are
// milliseconds since session start, derived from sample counts.
type Frame struct {
	Embedding  []float32
	Start      int64
	End        int64
	Speaker    int
	Confidence float32
}

// AnalyzerConfig tunes the frame extraction cadence.
type AnalyzerConfig struct {
	SampleRate  int
	HopMS       int
	WindowMS    int
	RetentionMS int64
}

func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.HopMS <= 0 {
		c.HopMS = 250
	}
	if c.WindowMS <= 0 {
		c.WindowMS = 1000
	}
	if c.RetentionMS <= 0 {
		c.RetentionMS = 600_000
	}
	return c
}

// FrameAnalyzer turns the raw audio stream into a timeline of speaker
// frames at a fixed hop, independent of how the recognizer segments the
// same audio. It keeps its own short audio ring, so the transcription
// buffer can slide without disturbing the frame cadence. Not safe for
// concurrent use; it lives on the processing loop.
type FrameAnalyzer struct {
	cfg       AnalyzerConfig
	embedder  Embedder
	breaker   *resilience.Breaker
	clusterer *Clusterer
	errFn     func(error)

	ring        []int16
	ringStartMS int64
	nextCenter  int64
	totalMS     int64
	frames      []Frame
}

// NewFrameAnalyzer wires an embedder and clusterer into a frame
// extractor. errFn may be nil; it receives non-fatal embedding errors.
func NewFrameAnalyzer(embedder Embedder, clusterer *Clusterer, cfg AnalyzerConfig, errFn func(error)) *FrameAnalyzer {
	cfg = cfg.withDefaults()
	return &FrameAnalyzer{
		cfg:        cfg,
		embedder:   embedder,
		breaker:    resilience.New(resilience.EmbedderConfig()),
		clusterer:  clusterer,
		errFn:      errFn,
		nextCenter: int64(cfg.WindowMS) / 2,
	}
}

// AddAudio appends samples and extracts every frame whose window is now
// fully covered. Frames with a failed embedding are kept with
// SpeakerUnknown so the timeline has no holes.
func (a *FrameAnalyzer) AddAudio(samples []int16) {
	if len(samples) == 0 {
		return
	}
	a.ring = append(a.ring, samples...)
	a.totalMS += int64(len(samples)) * 1000 / int64(a.cfg.SampleRate)

	half := int64(a.cfg.WindowMS) / 2
	for a.nextCenter+half <= a.totalMS {
		a.extractFrame(a.nextCenter - half)
		a.nextCenter += int64(a.cfg.HopMS)
	}
	a.trim()
}

func (a *FrameAnalyzer) extractFrame(startMS int64) {
	sr := int64(a.cfg.SampleRate)
	off := (startMS - a.ringStartMS) * sr / 1000
	n := int64(a.cfg.WindowMS) * sr / 1000
	if off < 0 || off+n > int64(len(a.ring)) {
		return
	}
	window := a.ring[off : off+n]

	frame := Frame{
		Start:   startMS,
		End:     startMS + int64(a.cfg.WindowMS),
		Speaker: SpeakerUnknown,
	}

	err := a.breaker.Execute(func() error {
		emb, err := a.embedder.Embed(window, a.cfg.SampleRate)
		if err != nil {
			return err
		}
		frame.Embedding = emb
		return nil
	})
	if err != nil {
		if a.errFn != nil {
			a.errFn(errors.Wrap(err, errors.CodeEmbedding, "frame embedding failed"))
		}
	} else {
		frame.Speaker = a.clusterer.Assign(frame.Embedding)
		frame.Confidence = 1
	}
	a.frames = append(a.frames, frame)
}

// trim drops audio already behind the next frame window and frames past
// the retention horizon.
func (a *FrameAnalyzer) trim() {
	keepFromMS := a.nextCenter - int64(a.cfg.WindowMS)
	if keepFromMS > a.ringStartMS {
		sr := int64(a.cfg.SampleRate)
		cut := (keepFromMS - a.ringStartMS) * sr / 1000
		if cut > 0 && cut <= int64(len(a.ring)) {
			a.ring = append(a.ring[:0], a.ring[cut:]...)
			a.ringStartMS = keepFromMS
		}
	}

	horizon := a.totalMS - a.cfg.RetentionMS
	if horizon <= 0 {
		return
	}
	i := 0
	for i < len(a.frames) && a.frames[i].End < horizon {
		i++
	}
	if i > 0 {
		a.frames = append(a.frames[:0], a.frames[i:]...)
	}
}

// FramesInRange returns the frames overlapping [t0, t1) in timeline order.
func (a *FrameAnalyzer) FramesInRange(t0, t1 int64) []Frame {
	if t1 <= t0 {
		return nil
	}
	var out []Frame
	for _, f := range a.frames {
		if f.End > t0 && f.Start < t1 {
			out = append(out, f)
		}
	}
	return out
}

// Frames returns the retained frame history. The caller must not
// mutate it.
func (a *FrameAnalyzer) Frames() []Frame { return a.frames }

// Reset clears all audio and frame state but keeps the configuration.
func (a *FrameAnalyzer) Reset() {
	a.ring = nil
	a.ringStartMS = 0
	a.nextCenter = int64(a.cfg.WindowMS) / 2
	a.totalMS = 0
	a.frames = nil
	a.clusterer.Reset()
}
