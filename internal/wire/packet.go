// Package wire implements the hub's framed wire protocol: the fixed
// 18-byte header, its CRC32, the packet-type catalog, and the
// variant-typed media payloads.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Magic is the fixed constant identifying a well-formed header.
const Magic uint32 = 0xACCA11CE

// HeaderSize is the fixed header length in bytes.
const HeaderSize = 18

// Type is the packet-type catalog. Values are stable wire identifiers.
type Type uint16

const (
	TypeProtocolVersion Type = iota + 1
	TypeCryptoCapabilities
	TypeCryptoParameters
	TypeKeyExchangeInit
	TypeAuthChallenge
	TypeAuthResponse
	TypeClientJoin
	TypeClientLeave
	TypeClientCapabilities
	TypeSize
	TypePing
	TypePong
	TypeServerState
	TypeClearConsole
	TypeRemoteLog
	TypeError
	TypeStreamStart
	TypeStreamStop
	TypeImageFrame
	TypeAudio // deprecated
	TypeAudioBatch
	TypeAudioOpus
	TypeAudioOpusBatch
	TypeASCIIFrame
)

func (t Type) String() string {
	switch t {
	case TypeProtocolVersion:
		return "PROTOCOL_VERSION"
	case TypeCryptoCapabilities:
		return "CRYPTO_CAPABILITIES"
	case TypeCryptoParameters:
		return "CRYPTO_PARAMETERS"
	case TypeKeyExchangeInit:
		return "KEY_EXCHANGE_INIT"
	case TypeAuthChallenge:
		return "AUTH_CHALLENGE"
	case TypeAuthResponse:
		return "AUTH_RESPONSE"
	case TypeClientJoin:
		return "CLIENT_JOIN"
	case TypeClientLeave:
		return "CLIENT_LEAVE"
	case TypeClientCapabilities:
		return "CLIENT_CAPABILITIES"
	case TypeSize:
		return "SIZE"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeServerState:
		return "SERVER_STATE"
	case TypeClearConsole:
		return "CLEAR_CONSOLE"
	case TypeRemoteLog:
		return "REMOTE_LOG"
	case TypeError:
		return "ERROR"
	case TypeStreamStart:
		return "STREAM_START"
	case TypeStreamStop:
		return "STREAM_STOP"
	case TypeImageFrame:
		return "IMAGE_FRAME"
	case TypeAudio:
		return "AUDIO"
	case TypeAudioBatch:
		return "AUDIO_BATCH"
	case TypeAudioOpus:
		return "AUDIO_OPUS"
	case TypeAudioOpusBatch:
		return "AUDIO_OPUS_BATCH"
	case TypeASCIIFrame:
		return "ASCII_FRAME"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// Header is the fixed 18-byte frame header.
type Header struct {
	Magic    uint32
	Type     Type
	Length   uint32
	CRC32    uint32
	SenderID uint32
}

// ErrBadMagic is returned when a header's magic does not match Magic.
var ErrBadMagic = fmt.Errorf("wire: bad magic")

// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
var ErrShortHeader = fmt.Errorf("wire: short header")

// ErrCRCMismatch is returned when the payload's CRC32 does not match the header.
var ErrCRCMismatch = fmt.Errorf("wire: crc32 mismatch")

// ErrLengthMismatch is returned when the supplied payload length does not
// match the header's declared length.
var ErrLengthMismatch = fmt.Errorf("wire: length mismatch")

// ChecksumPayload computes the wire CRC32 of a payload. This hub fixes the
// polynomial as IEEE (the standard CRC-32 used by zip/gzip/ethernet),
// written little-endian on the wire alongside the header's other
// little-endian fields.
func ChecksumPayload(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// EncodeHeader writes a HeaderSize-byte header for payload into dst.
// dst must be at least HeaderSize bytes.
func EncodeHeader(dst []byte, typ Type, payload []byte, senderID uint32) {
	binary.LittleEndian.PutUint32(dst[0:4], Magic)
	binary.LittleEndian.PutUint16(dst[4:6], uint16(typ))
	binary.LittleEndian.PutUint32(dst[6:10], uint32(len(payload)))
	binary.LittleEndian.PutUint32(dst[10:14], ChecksumPayload(payload))
	binary.LittleEndian.PutUint32(dst[14:18], senderID)
}

// EncodePacket returns a complete wire frame (header + payload).
func EncodePacket(typ Type, payload []byte, senderID uint32) []byte {
	out := make([]byte, HeaderSize+len(payload))
	EncodeHeader(out, typ, payload, senderID)
	copy(out[HeaderSize:], payload)
	return out
}

// ParseHeader decodes a header from buf, which must hold at least
// HeaderSize bytes. It does not validate the CRC (ValidatePayload does,
// once the payload is available).
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		Type:     Type(binary.LittleEndian.Uint16(buf[4:6])),
		Length:   binary.LittleEndian.Uint32(buf[6:10]),
		CRC32:    binary.LittleEndian.Uint32(buf[10:14]),
		SenderID: binary.LittleEndian.Uint32(buf[14:18]),
	}
	if h.Magic != Magic {
		return h, ErrBadMagic
	}
	return h, nil
}

// ValidatePayload checks payload length and CRC32 against h.
func ValidatePayload(h Header, payload []byte) error {
	if uint32(len(payload)) != h.Length {
		return ErrLengthMismatch
	}
	if ChecksumPayload(payload) != h.CRC32 {
		return ErrCRCMismatch
	}
	return nil
}

// ParsePacket decodes one complete frame (header + payload) from buf.
// Returns the header, the payload slice (a view into buf), and the total
// number of bytes consumed.
func ParsePacket(buf []byte) (Header, []byte, int, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return h, nil, 0, err
	}
	total := HeaderSize + int(h.Length)
	if len(buf) < total {
		return h, nil, 0, ErrShortHeader
	}
	payload := buf[HeaderSize:total]
	if err := ValidatePayload(h, payload); err != nil {
		return h, nil, 0, err
	}
	return h, payload, total, nil
}
