package wire

import (
	"encoding/binary"
	"fmt"
)

// MaxFrameDimension bounds width/height accepted in an ImageFrame to keep
// the width*height*3 multiplication clear of any overflow risk on 32-bit
// fields.
const MaxFrameDimension = 1 << 14 // 16384

// ImageFrame is the normalized decode of either the legacy or extended
// IMAGE_FRAME wire layout.
type ImageFrame struct {
	Width      uint32
	Height     uint32
	Compressed bool
	RGB        []byte // always the raw (decompressed) RGB8 payload after decode
}

// ParseImageFrame decodes either the legacy {width,height,rgb} layout or
// the extended {width,height,compressed,data_size,data} layout. The
// distinguishing signal is payload length: the legacy layout has exactly
// 8 + width*height*3 bytes; the extended layout has a compressed flag and
// explicit data_size field making its own length self-describing.
//
// decompress, if non-nil, is invoked when Compressed is true to produce the
// raw RGB bytes from payload's trailing data; its result becomes RGB.
func ParseImageFrame(payload []byte, decompress func(compressed []byte, expectedSize int) ([]byte, error)) (ImageFrame, error) {
	if len(payload) < 8 {
		return ImageFrame{}, fmt.Errorf("wire: image frame too short")
	}
	width := binary.BigEndian.Uint32(payload[0:4])
	height := binary.BigEndian.Uint32(payload[4:8])

	if width == 0 || height == 0 || width > MaxFrameDimension || height > MaxFrameDimension {
		return ImageFrame{}, fmt.Errorf("wire: image frame dimensions out of range: %dx%d", width, height)
	}

	rawSize := uint64(width) * uint64(height) * 3
	legacySize := 8 + rawSize

	// Extended layout: at least 16 bytes of header (width,height,compressed,data_size).
	if len(payload) >= 16 {
		compressedFlag := binary.BigEndian.Uint32(payload[8:12])
		dataSize := binary.BigEndian.Uint32(payload[12:16])
		if uint64(16)+uint64(dataSize) == uint64(len(payload)) && (compressedFlag == 0 || compressedFlag == 1) {
			data := payload[16:]
			if compressedFlag == 1 {
				if decompress == nil {
					return ImageFrame{}, fmt.Errorf("wire: compressed image frame with no decompressor configured")
				}
				rgb, err := decompress(data, int(rawSize))
				if err != nil {
					return ImageFrame{}, fmt.Errorf("decompress image frame: %w", err)
				}
				if uint64(len(rgb)) != rawSize {
					return ImageFrame{}, fmt.Errorf("wire: decompressed size %d != expected %d", len(rgb), rawSize)
				}
				return ImageFrame{Width: width, Height: height, Compressed: true, RGB: rgb}, nil
			}
			if uint64(len(data)) != rawSize {
				return ImageFrame{}, fmt.Errorf("wire: raw data_size %d != width*height*3 %d", len(data), rawSize)
			}
			return ImageFrame{Width: width, Height: height, RGB: data}, nil
		}
	}

	// Legacy layout: {width, height, rgb[w*h*3]}.
	if uint64(len(payload)) == legacySize {
		return ImageFrame{Width: width, Height: height, RGB: payload[8:]}, nil
	}

	return ImageFrame{}, fmt.Errorf("wire: image frame payload length %d matches neither legacy nor extended layout", len(payload))
}

// EncodeImageFrame serializes an extended-layout IMAGE_FRAME payload.
// compressed selects the flag; data is either raw RGB8 (width*height*3
// bytes) or the compressed byte string.
func EncodeImageFrame(width, height uint32, compressed bool, data []byte) []byte {
	out := make([]byte, 16+len(data))
	binary.BigEndian.PutUint32(out[0:4], width)
	binary.BigEndian.PutUint32(out[4:8], height)
	if compressed {
		binary.BigEndian.PutUint32(out[8:12], 1)
	}
	binary.BigEndian.PutUint32(out[12:16], uint32(len(data)))
	copy(out[16:], data)
	return out
}

// EncodeLegacyImageFrame serializes the legacy {width,height,rgb} layout.
func EncodeLegacyImageFrame(width, height uint32, rgb []byte) []byte {
	out := make([]byte, 8+len(rgb))
	binary.BigEndian.PutUint32(out[0:4], width)
	binary.BigEndian.PutUint32(out[4:8], height)
	copy(out[8:], rgb)
	return out
}

// AudioBatch is the decode of an AUDIO_BATCH payload: integer PCM samples
// rescaled to float32 in [-1, 1].
type AudioBatch struct {
	SampleRate uint32
	Channels   uint32
	Samples    []float32
}

// MaxAudioBatchSamples bounds total_samples relative to the configured
// batch size; oversize packets are a protocol violation.
const MaxAudioBatchSamples = 2 * 1920 // 2x a 40ms batch at 48kHz

// ParseAudioBatch decodes an AUDIO_BATCH payload.
func ParseAudioBatch(payload []byte) (AudioBatch, error) {
	if len(payload) < 16 {
		return AudioBatch{}, fmt.Errorf("wire: audio batch header too short")
	}
	totalSamples := binary.BigEndian.Uint32(payload[4:8])
	sampleRate := binary.BigEndian.Uint32(payload[8:12])
	channels := binary.BigEndian.Uint32(payload[12:16])

	if totalSamples > MaxAudioBatchSamples {
		return AudioBatch{}, fmt.Errorf("wire: audio batch %d samples exceeds max %d", totalSamples, MaxAudioBatchSamples)
	}
	want := 16 + int(totalSamples)*4
	if len(payload) != want {
		return AudioBatch{}, fmt.Errorf("wire: audio batch payload length %d != expected %d", len(payload), want)
	}

	samples := make([]float32, totalSamples)
	for i := range samples {
		raw := binary.BigEndian.Uint32(payload[16+i*4 : 20+i*4])
		samples[i] = float32(int32(raw)) / 2147483647.0
	}

	return AudioBatch{SampleRate: sampleRate, Channels: channels, Samples: samples}, nil
}

// EncodeAudioBatch serializes an AUDIO_BATCH payload from float samples,
// scaling each to a network-order 32-bit integer.
func EncodeAudioBatch(sampleRate, channels uint32, samples []float32) []byte {
	out := make([]byte, 16+len(samples)*4)
	binary.BigEndian.PutUint32(out[0:4], 1)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(samples)))
	binary.BigEndian.PutUint32(out[8:12], sampleRate)
	binary.BigEndian.PutUint32(out[12:16], channels)
	for i, s := range samples {
		binary.BigEndian.PutUint32(out[16+i*4:20+i*4], uint32(int32(s*2147483647.0)))
	}
	return out
}

// OpusBatch is the decode of an AUDIO_OPUS_BATCH payload: one or more Opus
// frames packed with a 16-bit size table.
type OpusBatch struct {
	SampleRate      uint32
	FrameDurationMS uint32
	Frames          [][]byte
}

// ParseOpusBatch decodes an AUDIO_OPUS_BATCH payload.
func ParseOpusBatch(payload []byte) (OpusBatch, error) {
	if len(payload) < 16 {
		return OpusBatch{}, fmt.Errorf("wire: opus batch header too short")
	}
	sampleRate := binary.BigEndian.Uint32(payload[0:4])
	frameDuration := binary.BigEndian.Uint32(payload[4:8])
	frameCount := binary.BigEndian.Uint32(payload[8:12])
	// payload[12:16] is reserved.

	offset := 16
	sizesEnd := offset + int(frameCount)*2
	if len(payload) < sizesEnd {
		return OpusBatch{}, fmt.Errorf("wire: opus batch frame size table truncated")
	}

	sizes := make([]int, frameCount)
	total := 0
	for i := range sizes {
		sz := binary.BigEndian.Uint16(payload[offset+i*2 : offset+i*2+2])
		sizes[i] = int(sz)
		total += int(sz)
	}

	if len(payload) != sizesEnd+total {
		return OpusBatch{}, fmt.Errorf("wire: opus batch payload length %d != expected %d", len(payload), sizesEnd+total)
	}

	frames := make([][]byte, frameCount)
	pos := sizesEnd
	for i, sz := range sizes {
		frames[i] = payload[pos : pos+sz]
		pos += sz
	}

	return OpusBatch{SampleRate: sampleRate, FrameDurationMS: frameDuration, Frames: frames}, nil
}

// EncodeOpusBatch serializes an AUDIO_OPUS_BATCH payload.
func EncodeOpusBatch(sampleRate, frameDurationMS uint32, frames [][]byte) []byte {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	out := make([]byte, 16+len(frames)*2+total)
	binary.BigEndian.PutUint32(out[0:4], sampleRate)
	binary.BigEndian.PutUint32(out[4:8], frameDurationMS)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(frames)))
	off := 16
	for _, f := range frames {
		binary.BigEndian.PutUint16(out[off:off+2], uint16(len(f)))
		off += 2
	}
	for _, f := range frames {
		copy(out[off:], f)
		off += len(f)
	}
	return out
}

// SingleOpus is the decode of an AUDIO_OPUS (singular) payload.
type SingleOpus struct {
	SampleRate      uint32
	FrameDurationMS uint32
	Frame           []byte
}

// EncodeSingleOpus serializes an AUDIO_OPUS payload: a 16-byte header
// (sample rate, frame duration, 8 reserved bytes) followed by one Opus
// frame. This is also the layout of the egress AUDIO_OPUS packets the
// audio render worker emits.
func EncodeSingleOpus(sampleRate, frameDurationMS uint32, frame []byte) []byte {
	out := make([]byte, 16+len(frame))
	binary.BigEndian.PutUint32(out[0:4], sampleRate)
	binary.BigEndian.PutUint32(out[4:8], frameDurationMS)
	copy(out[16:], frame)
	return out
}

// ParseSingleOpus decodes an AUDIO_OPUS payload: a 16-byte header followed
// by one Opus payload.
func ParseSingleOpus(payload []byte) (SingleOpus, error) {
	if len(payload) < 16 {
		return SingleOpus{}, fmt.Errorf("wire: single opus header too short")
	}
	return SingleOpus{
		SampleRate:      binary.BigEndian.Uint32(payload[0:4]),
		FrameDurationMS: binary.BigEndian.Uint32(payload[4:8]),
		Frame:           payload[16:],
	}, nil
}
