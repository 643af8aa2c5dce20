// Package mixer implements the audio-combination collaborator used by the
// audio render worker: per-source ring-buffer reads combined, with
// optional ducking and soft compression, into a single mixed PCM frame.
package mixer

import (
	"math"

	"github.com/ethan/termcast-hub/internal/ringbuffer"
)

// Source is one contributing peer's audio ingress.
type Source struct {
	ID     uint32
	Buffer *ringbuffer.RingBuffer[float32]
}

// Mix combines up to n samples from every source except excludeID. It
// returns the mixed samples and the number of samples actually obtained
// (the maximum read length across contributing sources).
//
// When compress is true, ducking and soft compression are applied and the
// result is clipped to [-1, 1]; when false, the sources are simply summed
// and the result may exceed that range (Opus tolerates this).
func Mix(sources []Source, excludeID uint32, n int, compress bool) ([]float32, int) {
	mix := make([]float32, n)
	scratch := make([]float32, n)
	maxLen := 0

	for _, src := range sources {
		if src.ID == excludeID || src.Buffer == nil {
			continue
		}
		got := src.Buffer.Read(scratch)
		if got > maxLen {
			maxLen = got
		}
		for i := 0; i < got; i++ {
			mix[i] += scratch[i]
		}
	}

	if compress {
		applyDucking(mix[:maxLen])
		applySoftCompression(mix[:maxLen])
	}

	return mix, maxLen
}

// applyDucking scales the whole frame by 1/peak when its peak magnitude
// exceeds 1.0, bringing the peak back to unity; frames within [-1, 1] are
// left unchanged.
func applyDucking(samples []float32) {
	if len(samples) == 0 {
		return
	}
	var peak float32
	for _, s := range samples {
		if abs := float32(math.Abs(float64(s))); abs > peak {
			peak = abs
		}
	}
	if peak <= 1.0 {
		return
	}
	// Gentle attenuation proportional to how far the peak exceeds unity.
	gain := 1.0 / (1.0 + (peak - 1.0))
	for i := range samples {
		samples[i] *= gain
	}
}

// applySoftCompression applies a tanh soft-knee compressor and clips the
// result to [-1, 1], suppressing clipping from summed sources.
func applySoftCompression(samples []float32) {
	for i, s := range samples {
		samples[i] = float32(math.Tanh(float64(s)))
	}
}
