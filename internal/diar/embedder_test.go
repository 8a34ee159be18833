package diar

import (
	"math"
	"testing"
)

func sineWave(freq float64, n, sampleRate int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestLogMelEmbedderDim(t *testing.T) {
	e := NewLogMelEmbedder(0)
	if e.Dim() != 40 {
		t.Errorf("Dim() = %d, want 40 default", e.Dim())
	}

	emb, err := e.Embed(sineWave(220, 16000, 16000), 16000)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(emb) != 40 {
		t.Errorf("len(embedding) = %d, want 40", len(emb))
	}
}

func TestLogMelEmbedderSeparatesTones(t *testing.T) {
	e := NewLogMelEmbedder(40)

	low, err := e.Embed(sineWave(150, 16000, 16000), 16000)
	if err != nil {
		t.Fatalf("Embed(low) error: %v", err)
	}
	high, err := e.Embed(sineWave(2500, 16000, 16000), 16000)
	if err != nil {
		t.Fatalf("Embed(high) error: %v", err)
	}

	self := Cosine(low, low)
	cross := Cosine(low, high)
	if self < 0.999 {
		t.Errorf("Cosine(low, low) = %v, want ~1", self)
	}
	if cross >= self-0.1 {
		t.Errorf("Cosine(low, high) = %v, want well below self-similarity %v", cross, self)
	}
}

func TestLogMelEmbedderDeterministic(t *testing.T) {
	e := NewLogMelEmbedder(40)
	w := sineWave(440, 16000, 16000)

	a, err := e.Embed(w, 16000)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	b, err := e.Embed(w, 16000)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLogMelEmbedderRejectsBadInput(t *testing.T) {
	e := NewLogMelEmbedder(40)

	if _, err := e.Embed(make([]int16, 100), 16000); err == nil {
		t.Error("Embed(short window) = nil error, want error")
	}
	if _, err := e.Embed(make([]int16, 16000), 0); err == nil {
		t.Error("Embed(zero sample rate) = nil error, want error")
	}
}
