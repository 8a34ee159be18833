// Package diar implements online speaker diarization: fixed-cadence
// frame embeddings, incremental clustering with hysteresis, and
// frame-voting attribution of recognized text to speaker identities.
package diar

import (
	"math"
	"math/cmplx"

	"github.com/pzarzycki/livescribe/internal/errors"
)

// Embedder turns a sample window into a fixed-length voice vector.
// Vectors from the same embedder must be comparable by cosine
// similarity; they need not be bit-reproducible. The variant is chosen
// once at construction, never per call.
type Embedder interface {
	Embed(samples []int16, sampleRate int) ([]float32, error)
	Dim() int
}

const (
	logMelFFTSize = 512
	logMelHopSize = 160 // 10ms at 16kHz
	logMelFMin    = 80.0
)

// LogMelEmbedder is the hand-crafted variant: an averaged, normalized
// log-mel spectrum. Low-dimensional and noisy compared to a neural
// model, which is exactly what the clusterer's hysteresis exists for.
type LogMelEmbedder struct {
	nMels int
}

// NewLogMelEmbedder creates a hand-crafted embedder with nMels output
// dimensions (40 is the tuned default).
func NewLogMelEmbedder(nMels int) *LogMelEmbedder {
	if nMels <= 0 {
		nMels = 40
	}
	return &LogMelEmbedder{nMels: nMels}
}

func (e *LogMelEmbedder) Dim() int { return e.nMels }

func (e *LogMelEmbedder) Embed(samples []int16, sampleRate int) ([]float32, error) {
	if len(samples) < logMelFFTSize {
		return nil, errors.Newf(errors.CodeEmbedding, "window too short: %d samples", len(samples))
	}
	if sampleRate <= 0 {
		return nil, errors.New(errors.CodeEmbedding, "invalid sample rate")
	}

	filters := melFilterbank(e.nMels, sampleRate)
	nBins := logMelFFTSize/2 + 1

	melEnergy := make([]float64, e.nMels)
	frameCount := 0

	frame := make([]complex128, logMelFFTSize)
	for pos := 0; pos+logMelFFTSize <= len(samples); pos += logMelHopSize {
		for i := 0; i < logMelFFTSize; i++ {
			w := 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(logMelFFTSize-1)))
			frame[i] = complex(float64(samples[pos+i])/32768.0*w, 0)
		}
		fftInPlace(frame)

		for m := 0; m < e.nMels; m++ {
			var energy float64
			for k := 0; k < nBins; k++ {
				if f := filters[m][k]; f != 0 {
					re, im := real(frame[k]), imag(frame[k])
					energy += (re*re + im*im) * f
				}
			}
			melEnergy[m] += energy
		}
		frameCount++
	}

	if frameCount == 0 {
		return nil, errors.New(errors.CodeEmbedding, "no analysis frames fit the window")
	}

	// Average over frames, log-compress, then mean/variance normalize so
	// cosine similarity reflects spectral shape rather than level.
	emb := make([]float32, e.nMels)
	var mean float64
	for m := 0; m < e.nMels; m++ {
		v := math.Log(melEnergy[m]/float64(frameCount) + 1e-10)
		emb[m] = float32(v)
		mean += v
	}
	mean /= float64(e.nMels)

	var variance float64
	for _, v := range emb {
		d := float64(v) - mean
		variance += d * d
	}
	std := math.Sqrt(variance/float64(e.nMels) + 1e-8)

	for m := range emb {
		emb[m] = float32((float64(emb[m]) - mean) / std)
	}
	return emb, nil
}

func hzToMel(hz float64) float64  { return 2595.0 * math.Log10(1.0+hz/700.0) }
func melToHz(mel float64) float64 { return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0) }

// melFilterbank builds triangular filters over the FFT bins.
func melFilterbank(nMels, sampleRate int) [][]float64 {
	nBins := logMelFFTSize/2 + 1
	melMin := hzToMel(logMelFMin)
	melMax := hzToMel(float64(sampleRate) / 2.0)

	points := make([]float64, nMels+2)
	for i := range points {
		mel := melMin + (melMax-melMin)*float64(i)/float64(nMels+1)
		points[i] = melToHz(mel)
	}

	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filters[m] = make([]float64, nBins)
		left, center, right := points[m], points[m+1], points[m+2]
		for k := 0; k < nBins; k++ {
			freq := float64(k) * float64(sampleRate) / float64(logMelFFTSize)
			switch {
			case freq >= left && freq <= center:
				filters[m][k] = (freq - left) / (center - left)
			case freq > center && freq <= right:
				filters[m][k] = (right - freq) / (right - center)
			}
		}
	}
	return filters
}

// fftInPlace is a radix-2 Cooley-Tukey FFT. len(x) must be a power of 2.
func fftInPlace(x []complex128) {
	n := len(x)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation.
	j := 0
	for i := 0; i < n; i++ {
		if j > i {
			x[i], x[j] = x[j], x[i]
		}
		m := n >> 1
		for m >= 1 && j >= m {
			j -= m
			m >>= 1
		}
		j += m
	}

	for size := 2; size <= n; size <<= 1 {
		wm := cmplx.Exp(complex(0, -2.0*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				t := w * x[start+k+size/2]
				u := x[start+k]
				x[start+k] = u + t
				x[start+k+size/2] = u - t
				w *= wm
			}
		}
	}
}
