package codecs

import (
	"bytes"
	"math"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpusEncodeDecodeRoundTrip(t *testing.T) {
	codec, err := NewOpusCodec()
	require.NoError(t, err)
	defer codec.Close()

	pcm := make([]float32, OpusFrameSamples)
	for i := range pcm {
		pcm[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / OpusSampleRate))
	}

	frame, err := codec.Encode(pcm)
	require.NoError(t, err)
	assert.NotEmpty(t, frame)

	decoded, err := codec.Decode(frame)
	require.NoError(t, err)
	assert.Len(t, decoded, OpusFrameSamples)
}

func TestOpusEncodeRejectsWrongSampleCount(t *testing.T) {
	codec, err := NewOpusCodec()
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.Encode(make([]float32, 100))
	assert.Error(t, err)
}

func TestBrotliDecompressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB, 0x10, 0x42}, 100)

	var compressed bytes.Buffer
	w := brotli.NewWriter(&compressed)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := DecompressImage(compressed.Bytes(), len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}
