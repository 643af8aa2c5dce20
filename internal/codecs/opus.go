// Package codecs wraps the opaque third-party codec handles used by the
// render workers: an Opus encoder/decoder pair per client, and a brotli
// decompressor for compressed IMAGE_FRAME payloads.
package codecs

import (
	"fmt"

	"github.com/hraban/opus"
)

// OpusSampleRate is the fixed sample rate used throughout the hub.
const OpusSampleRate = 48000

// OpusChannels is the fixed channel count (mono).
const OpusChannels = 1

// OpusFrameSamples is the sample count of one 20ms Opus frame at 48kHz.
const OpusFrameSamples = 960

// OpusBitrate is the encoder's target bitrate.
const OpusBitrate = 128000

// OpusCodec owns one client's long-lived encoder and decoder. The
// ClientRecord creates it on first use (STREAM_START{AUDIO}, the first
// Opus packet, or the first encode) and drops it with the record.
type OpusCodec struct {
	encoder *opus.Encoder
	decoder *opus.Decoder
}

// NewOpusCodec creates an encoder (VOIP application, OpusBitrate target
// bitrate) and decoder pair for one client. The encoder's bitrate mode is
// left at the library default (variable bitrate); the AUDIO application
// profile is not selectable.
func NewOpusCodec() (*OpusCodec, error) {
	enc, err := opus.NewEncoder(OpusSampleRate, OpusChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codecs: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(OpusBitrate); err != nil {
		return nil, fmt.Errorf("codecs: set opus bitrate: %w", err)
	}

	dec, err := opus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("codecs: new opus decoder: %w", err)
	}

	return &OpusCodec{encoder: enc, decoder: dec}, nil
}

// Encode encodes exactly OpusFrameSamples PCM samples into an Opus frame.
func (c *OpusCodec) Encode(pcm []float32) ([]byte, error) {
	if len(pcm) != OpusFrameSamples {
		return nil, fmt.Errorf("codecs: opus encode requires %d samples, got %d", OpusFrameSamples, len(pcm))
	}
	buf := make([]byte, 4096)
	n, err := c.encoder.EncodeFloat32(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("codecs: opus encode: %w", err)
	}
	return buf[:n], nil
}

// Decode decodes a single Opus frame into PCM samples.
func (c *OpusCodec) Decode(frame []byte) ([]float32, error) {
	out := make([]float32, OpusFrameSamples)
	n, err := c.decoder.DecodeFloat32(frame, out)
	if err != nil {
		return nil, fmt.Errorf("codecs: opus decode: %w", err)
	}
	return out[:n], nil
}

// Close releases the codec's underlying resources. Safe to call once.
func (c *OpusCodec) Close() {
	// The hraban/opus handles are plain Go values backed by cgo buffers
	// freed by the garbage collector; no explicit destructor is exposed.
}
