package mixer

import (
	"testing"

	"github.com/ethan/termcast-hub/internal/ringbuffer"
	"github.com/stretchr/testify/assert"
)

func sourceWith(id uint32, samples []float32) Source {
	rb := ringbuffer.New[float32](len(samples) + 4)
	rb.Write(samples)
	return Source{ID: id, Buffer: rb}
}

func TestMixExcludesSelf(t *testing.T) {
	self := sourceWith(1, []float32{1, 1, 1})
	peer := sourceWith(2, []float32{0.5, 0.5, 0.5})

	mix, n := Mix([]Source{self, peer}, 1, 3, false)
	assert.Equal(t, 3, n)
	for _, v := range mix {
		assert.InDelta(t, 0.5, v, 1e-6)
	}
}

func TestMixSumsMultiplePeers(t *testing.T) {
	a := sourceWith(1, []float32{0.3})
	b := sourceWith(2, []float32{0.4})

	mix, n := Mix([]Source{a, b}, 99, 1, false)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.7, mix[0], 1e-6)
}

func TestMixCompressClipsToUnitRange(t *testing.T) {
	a := sourceWith(1, []float32{5, -5})
	mix, n := Mix([]Source{a}, 99, 2, true)
	assert.Equal(t, 2, n)
	for _, v := range mix {
		assert.LessOrEqual(t, v, float32(1.0))
		assert.GreaterOrEqual(t, v, float32(-1.0))
	}
}

func TestMixMaxLenIsMaximumAcrossSources(t *testing.T) {
	short := sourceWith(1, []float32{1})
	long := sourceWith(2, []float32{1, 1, 1})

	_, n := Mix([]Source{short, long}, 99, 3, false)
	assert.Equal(t, 3, n)
}
