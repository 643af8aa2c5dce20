package wire

import (
	"encoding/binary"
	"fmt"
)

// VersionPayload is the PROTOCOL_VERSION packet body.
type VersionPayload struct {
	Major, Minor       uint16
	SupportsEncryption bool
	CompressionMask    uint32
	FeatureFlags       uint32
}

// EncodeVersion serializes a VersionPayload.
func EncodeVersion(v VersionPayload) []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint16(buf[0:2], v.Major)
	binary.BigEndian.PutUint16(buf[2:4], v.Minor)
	if v.SupportsEncryption {
		buf[4] = 1
	}
	binary.BigEndian.PutUint32(buf[5:9], v.CompressionMask)
	binary.BigEndian.PutUint32(buf[9:13], v.FeatureFlags)
	return buf
}

// ParseVersion decodes a PROTOCOL_VERSION payload.
func ParseVersion(payload []byte) (VersionPayload, error) {
	if len(payload) < 13 {
		return VersionPayload{}, fmt.Errorf("wire: version payload too short")
	}
	return VersionPayload{
		Major:              binary.BigEndian.Uint16(payload[0:2]),
		Minor:              binary.BigEndian.Uint16(payload[2:4]),
		SupportsEncryption: payload[4] != 0,
		CompressionMask:    binary.BigEndian.Uint32(payload[5:9]),
		FeatureFlags:       binary.BigEndian.Uint32(payload[9:13]),
	}, nil
}

// CryptoParamsPayload is the CRYPTO_PARAMETERS packet body.
type CryptoParamsPayload struct {
	KeyExchangeAlgo string
	CipherAlgo      string
	SignatureAlgo   string
	KeySize         int
	NonceSize       int
	MACSize         int
}

func putLenPrefixed(buf []byte, off int, s string) int {
	binary.BigEndian.PutUint16(buf[off:], uint16(len(s)))
	off += 2
	copy(buf[off:], s)
	return off + len(s)
}

func getLenPrefixed(payload []byte, off int) (string, int, error) {
	if len(payload) < off+2 {
		return "", 0, fmt.Errorf("wire: length-prefixed field truncated")
	}
	n := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if len(payload) < off+n {
		return "", 0, fmt.Errorf("wire: length-prefixed field truncated")
	}
	return string(payload[off : off+n]), off + n, nil
}

// EncodeCryptoParameters serializes a CryptoParamsPayload.
func EncodeCryptoParameters(p CryptoParamsPayload) []byte {
	size := 2 + len(p.KeyExchangeAlgo) + 2 + len(p.CipherAlgo) + 2 + len(p.SignatureAlgo) + 12
	out := make([]byte, size)
	off := putLenPrefixed(out, 0, p.KeyExchangeAlgo)
	off = putLenPrefixed(out, off, p.CipherAlgo)
	off = putLenPrefixed(out, off, p.SignatureAlgo)
	binary.BigEndian.PutUint32(out[off:], uint32(p.KeySize))
	off += 4
	binary.BigEndian.PutUint32(out[off:], uint32(p.NonceSize))
	off += 4
	binary.BigEndian.PutUint32(out[off:], uint32(p.MACSize))
	return out
}

// ParseCryptoParameters decodes a CRYPTO_PARAMETERS payload.
func ParseCryptoParameters(payload []byte) (CryptoParamsPayload, error) {
	kex, off, err := getLenPrefixed(payload, 0)
	if err != nil {
		return CryptoParamsPayload{}, err
	}
	cipher, off, err := getLenPrefixed(payload, off)
	if err != nil {
		return CryptoParamsPayload{}, err
	}
	sig, off, err := getLenPrefixed(payload, off)
	if err != nil {
		return CryptoParamsPayload{}, err
	}
	if len(payload) < off+12 {
		return CryptoParamsPayload{}, fmt.Errorf("wire: crypto parameters payload truncated")
	}
	return CryptoParamsPayload{
		KeyExchangeAlgo: kex,
		CipherAlgo:      cipher,
		SignatureAlgo:   sig,
		KeySize:         int(binary.BigEndian.Uint32(payload[off:])),
		NonceSize:       int(binary.BigEndian.Uint32(payload[off+4:])),
		MACSize:         int(binary.BigEndian.Uint32(payload[off+8:])),
	}, nil
}

// EncodeKeyExchangeInit serializes an X25519 public key.
func EncodeKeyExchangeInit(pub [32]byte) []byte {
	out := make([]byte, 32)
	copy(out, pub[:])
	return out
}

// ParseKeyExchangeInit decodes a KEY_EXCHANGE_INIT payload.
func ParseKeyExchangeInit(payload []byte) ([32]byte, error) {
	var pub [32]byte
	if len(payload) < 32 {
		return pub, fmt.Errorf("wire: key exchange payload too short")
	}
	copy(pub[:], payload[:32])
	return pub, nil
}

// EncodeAuthChallenge serializes an AUTH_CHALLENGE payload: a 32-byte
// transcript digest followed by a (possibly empty) signature.
func EncodeAuthChallenge(challenge, signature []byte) []byte {
	out := make([]byte, 0, len(challenge)+len(signature))
	out = append(out, challenge...)
	out = append(out, signature...)
	return out
}

// ParseAuthChallenge splits an AUTH_CHALLENGE payload into its 32-byte
// digest and trailing signature (empty when the server has no identity key).
func ParseAuthChallenge(payload []byte) (challenge, signature []byte, err error) {
	if len(payload) < 32 {
		return nil, nil, fmt.Errorf("wire: auth challenge payload too short")
	}
	return payload[:32], payload[32:], nil
}

// EncodeAuthResponse serializes an AUTH_RESPONSE payload: the client's
// Ed25519 public key (empty when no allow-list is in effect).
func EncodeAuthResponse(clientPublicKey []byte) []byte {
	out := make([]byte, len(clientPublicKey))
	copy(out, clientPublicKey)
	return out
}

// ClientJoinPayload is the CLIENT_JOIN packet body.
type ClientJoinPayload struct {
	DisplayName  string
	CanSendVideo bool
	CanSendAudio bool
	WantsStretch bool
}

// EncodeClientJoin serializes a ClientJoinPayload.
func EncodeClientJoin(p ClientJoinPayload) []byte {
	name := []byte(p.DisplayName)
	out := make([]byte, 2+len(name)+1)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(name)))
	copy(out[2:], name)
	var caps byte
	if p.CanSendVideo {
		caps |= 1
	}
	if p.CanSendAudio {
		caps |= 2
	}
	if p.WantsStretch {
		caps |= 4
	}
	out[2+len(name)] = caps
	return out
}

// ParseClientJoin decodes a CLIENT_JOIN payload.
func ParseClientJoin(payload []byte) (ClientJoinPayload, error) {
	if len(payload) < 2 {
		return ClientJoinPayload{}, fmt.Errorf("wire: client join payload too short")
	}
	nameLen := int(binary.BigEndian.Uint16(payload[0:2]))
	if len(payload) < 2+nameLen+1 {
		return ClientJoinPayload{}, fmt.Errorf("wire: client join payload truncated")
	}
	name := string(payload[2 : 2+nameLen])
	caps := payload[2+nameLen]
	return ClientJoinPayload{
		DisplayName:  name,
		CanSendVideo: caps&1 != 0,
		CanSendAudio: caps&2 != 0,
		WantsStretch: caps&4 != 0,
	}, nil
}

// CapabilitiesPayload is the CLIENT_CAPABILITIES packet body.
type CapabilitiesPayload struct {
	TerminalWidth      int
	TerminalHeight     int
	ColorLevel         byte
	RenderMode         byte
	PaletteSelector    string
	PaletteCustomChars string
	DesiredFPS         int
}

// EncodeCapabilities serializes a CapabilitiesPayload.
func EncodeCapabilities(p CapabilitiesPayload) []byte {
	sel := []byte(p.PaletteSelector)
	custom := []byte(p.PaletteCustomChars)
	out := make([]byte, 4+4+1+1+2+len(sel)+2+len(custom)+4)
	off := 0
	binary.BigEndian.PutUint32(out[off:], uint32(p.TerminalWidth))
	off += 4
	binary.BigEndian.PutUint32(out[off:], uint32(p.TerminalHeight))
	off += 4
	out[off] = p.ColorLevel
	off++
	out[off] = p.RenderMode
	off++
	binary.BigEndian.PutUint16(out[off:], uint16(len(sel)))
	off += 2
	copy(out[off:], sel)
	off += len(sel)
	binary.BigEndian.PutUint16(out[off:], uint16(len(custom)))
	off += 2
	copy(out[off:], custom)
	off += len(custom)
	binary.BigEndian.PutUint32(out[off:], uint32(p.DesiredFPS))
	return out
}

// ParseCapabilities decodes a CLIENT_CAPABILITIES payload.
func ParseCapabilities(payload []byte) (CapabilitiesPayload, error) {
	if len(payload) < 10 {
		return CapabilitiesPayload{}, fmt.Errorf("wire: capabilities payload too short")
	}
	off := 0
	w := binary.BigEndian.Uint32(payload[off:])
	off += 4
	h := binary.BigEndian.Uint32(payload[off:])
	off += 4
	color := payload[off]
	off++
	render := payload[off]
	off++
	if len(payload) < off+2 {
		return CapabilitiesPayload{}, fmt.Errorf("wire: capabilities payload truncated (selector length)")
	}
	selLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if len(payload) < off+selLen+2 {
		return CapabilitiesPayload{}, fmt.Errorf("wire: capabilities payload truncated (selector)")
	}
	sel := string(payload[off : off+selLen])
	off += selLen
	customLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if len(payload) < off+customLen+4 {
		return CapabilitiesPayload{}, fmt.Errorf("wire: capabilities payload truncated (custom chars)")
	}
	custom := string(payload[off : off+customLen])
	off += customLen
	fps := binary.BigEndian.Uint32(payload[off:])
	return CapabilitiesPayload{
		TerminalWidth:      int(w),
		TerminalHeight:     int(h),
		ColorLevel:         color,
		RenderMode:         render,
		PaletteSelector:    sel,
		PaletteCustomChars: custom,
		DesiredFPS:         int(fps),
	}, nil
}

// SizePayload is the SIZE packet body.
type SizePayload struct {
	TerminalWidth, TerminalHeight int
}

// EncodeSize serializes a SizePayload.
func EncodeSize(p SizePayload) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], uint32(p.TerminalWidth))
	binary.BigEndian.PutUint32(out[4:8], uint32(p.TerminalHeight))
	return out
}

// ParseSize decodes a SIZE payload.
func ParseSize(payload []byte) (SizePayload, error) {
	if len(payload) < 8 {
		return SizePayload{}, fmt.Errorf("wire: size payload too short")
	}
	return SizePayload{
		TerminalWidth:  int(binary.BigEndian.Uint32(payload[0:4])),
		TerminalHeight: int(binary.BigEndian.Uint32(payload[4:8])),
	}, nil
}

// StreamKind selects which media a STREAM_START/STREAM_STOP refers to.
type StreamKind byte

const (
	StreamVideo StreamKind = 0
	StreamAudio StreamKind = 1
)

// EncodeStreamControl serializes a STREAM_START/STREAM_STOP payload.
func EncodeStreamControl(kind StreamKind) []byte {
	return []byte{byte(kind)}
}

// ParseStreamControl decodes a STREAM_START/STREAM_STOP payload.
func ParseStreamControl(payload []byte) (StreamKind, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("wire: stream control payload too short")
	}
	return StreamKind(payload[0]), nil
}

// EncodeRemoteLog serializes a REMOTE_LOG payload: a truncation flag
// followed by the message text.
func EncodeRemoteLog(truncated bool, message string) []byte {
	out := make([]byte, 1+len(message))
	if truncated {
		out[0] = 1
	}
	copy(out[1:], message)
	return out
}

// ParseRemoteLog decodes a REMOTE_LOG payload.
func ParseRemoteLog(payload []byte) (truncated bool, message string, err error) {
	if len(payload) < 1 {
		return false, "", fmt.Errorf("wire: remote log payload too short")
	}
	return payload[0] != 0, string(payload[1:]), nil
}

// EncodeError serializes an ERROR payload: a numeric code followed by a
// human-readable reason string.
func EncodeError(code uint32, reason string) []byte {
	out := make([]byte, 4+len(reason))
	binary.BigEndian.PutUint32(out[0:4], code)
	copy(out[4:], reason)
	return out
}

// ParseError decodes an ERROR payload.
func ParseError(payload []byte) (code uint32, reason string, err error) {
	if len(payload) < 4 {
		return 0, "", fmt.Errorf("wire: error payload too short")
	}
	return binary.BigEndian.Uint32(payload[0:4]), string(payload[4:]), nil
}
