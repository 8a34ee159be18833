package audio

import "math"

// Resample converts samples to the target rate with linear
// interpolation. Good enough for speech models; the heavy lifting
// happens downstream of the canonical 16 kHz rate.
func Resample(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || inRate <= 0 || len(in) == 0 {
		return in
	}

	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	out := make([]int16, outLen)

	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		frac := srcPos - float64(i0)
		v := (1.0-frac)*float64(in[i0]) + frac*float64(in[i1])
		vi := int(math.Round(v))
		if vi > 32767 {
			vi = 32767
		} else if vi < -32768 {
			vi = -32768
		}
		out[i] = int16(vi)
	}
	return out
}

// Downmix collapses interleaved multi-channel samples to mono by
// averaging each frame.
func Downmix(in []int16, channels int) []int16 {
	if channels <= 1 || len(in) == 0 {
		return in
	}

	frames := len(in) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(in[f*channels+c])
		}
		out[f] = int16(sum / channels)
	}
	return out
}

// RMSdBFS returns the level of the samples in dB relative to full
// scale. Pure silence reports -120.
func RMSdBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return -120.0
	}

	var sum2 float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum2 += v * v
	}
	rms := math.Sqrt(sum2 / float64(len(samples)))
	if rms <= 0 {
		return -120.0
	}
	return 20.0 * math.Log10(rms)
}
