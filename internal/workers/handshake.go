package workers

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/obs/logger"
	"github.com/ethan/termcast-hub/internal/transport"
	"github.com/ethan/termcast-hub/internal/wire"
)

// HandshakeStepTimeout bounds each individual read during the handshake.
// A stalled peer is disconnected by the bounded read returning an error.
const HandshakeStepTimeout = 10 * time.Second

// ServerHandshake drives the server side of the 5-phase handshake state
// machine over t, all messages in plaintext until READY. It
// returns the established Session, or an error if any step fails — the
// caller (the host's per-connection goroutine, before ReceiveWorker
// starts) treats any error here as a crypto-failure disconnect, never
// handing a compromised session to the data plane.
func ServerHandshake(t transport.Transport, cfg cryptosession.Config) (*cryptosession.Session, error) {
	sess, err := cryptosession.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("handshake: new session: %w", err)
	}

	// Phase 1: version exchange.
	h, payload, err := readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read version: %w", err)
	}
	if h.Type != wire.TypeProtocolVersion {
		return nil, fmt.Errorf("handshake: expected PROTOCOL_VERSION, got %s", h.Type)
	}
	peerVersion, err := wire.ParseVersion(payload)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse version: %w", err)
	}
	if err := sess.ExchangeVersion(peerVersion); err != nil {
		return nil, fmt.Errorf("handshake: exchange version: %w", err)
	}
	logger.Default().DebugHandshake("version exchanged",
		"remote", t.RemoteAddr(), "peer_major", peerVersion.Major, "peer_minor", peerVersion.Minor)
	serverVersion := wire.VersionPayload{Major: 1, Minor: 0, SupportsEncryption: true}
	if err := wire.WritePacket(t, wire.TypeProtocolVersion, wire.EncodeVersion(serverVersion), 0); err != nil {
		return nil, fmt.Errorf("handshake: write version: %w", err)
	}

	// Phase 2: capabilities & parameters.
	h, _, err = readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read capabilities: %w", err)
	}
	if h.Type != wire.TypeCryptoCapabilities {
		return nil, fmt.Errorf("handshake: expected CRYPTO_CAPABILITIES, got %s", h.Type)
	}
	params, err := sess.NegotiateParameters()
	if err != nil {
		return nil, fmt.Errorf("handshake: negotiate parameters: %w", err)
	}
	wireParams := wire.CryptoParamsPayload{
		KeyExchangeAlgo: params.KeyExchangeAlgo,
		CipherAlgo:      params.CipherAlgo,
		SignatureAlgo:   params.SignatureAlgo,
		KeySize:         params.KeySize,
		NonceSize:       params.NonceSize,
		MACSize:         params.MACSize,
	}
	if err := wire.WritePacket(t, wire.TypeCryptoParameters, wire.EncodeCryptoParameters(wireParams), 0); err != nil {
		return nil, fmt.Errorf("handshake: write parameters: %w", err)
	}

	// Phase 3: key exchange. Server sends its public key first, then
	// reads the client's.
	localPub := sess.LocalPublicKey()
	if err := wire.WritePacket(t, wire.TypeKeyExchangeInit, wire.EncodeKeyExchangeInit(localPub), 0); err != nil {
		return nil, fmt.Errorf("handshake: write key exchange: %w", err)
	}
	h, payload, err = readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read key exchange: %w", err)
	}
	if h.Type != wire.TypeKeyExchangeInit {
		return nil, fmt.Errorf("handshake: expected KEY_EXCHANGE_INIT, got %s", h.Type)
	}
	peerPub, err := wire.ParseKeyExchangeInit(payload)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse key exchange: %w", err)
	}
	if err := sess.CompleteKeyExchange(peerPub, true); err != nil {
		return nil, fmt.Errorf("handshake: complete key exchange: %w", err)
	}

	// Phase 4: authentication (optional).
	challenge, err := sess.SignChallenge()
	if err != nil {
		return nil, fmt.Errorf("handshake: sign challenge: %w", err)
	}
	if err := wire.WritePacket(t, wire.TypeAuthChallenge, wire.EncodeAuthChallenge(challenge.Challenge, challenge.Signature), 0); err != nil {
		return nil, fmt.Errorf("handshake: write auth challenge: %w", err)
	}
	h, payload, err = readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read auth response: %w", err)
	}
	if h.Type != wire.TypeAuthResponse {
		return nil, fmt.Errorf("handshake: expected AUTH_RESPONSE, got %s", h.Type)
	}
	if cfg.Allowlist != nil {
		if len(payload) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("handshake: auth response public key has wrong size %d", len(payload))
		}
		if err := sess.AuthenticateClient(ed25519.PublicKey(payload)); err != nil {
			return nil, fmt.Errorf("handshake: authenticate client: %w", err)
		}
	} else {
		if err := sess.Ready(); err != nil {
			return nil, fmt.Errorf("handshake: ready: %w", err)
		}
	}

	// Phase 5: ready. The first post-handshake packet the receive loop
	// decrypts is the implicit proof both sides derived the same AEAD key.
	logger.Default().DebugHandshake("handshake ready", "remote", t.RemoteAddr())
	return sess, nil
}

// ClientHandshake drives the client side of the same handshake over t:
// the counterpart an embedding mode (or test) uses to establish a session
// against ServerHandshake. version is the client's PROTOCOL_VERSION
// announcement; cfg supplies the client's password, the pinned server
// public key to verify the AUTH_CHALLENGE signature against (if any), and,
// when an allow-list is in force server-side, the identity key whose
// public half is sent as the AUTH_RESPONSE.
func ClientHandshake(t transport.Transport, cfg cryptosession.Config, version wire.VersionPayload) (*cryptosession.Session, error) {
	sess, err := cryptosession.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("handshake: new session: %w", err)
	}

	// Phase 1: version exchange.
	if err := wire.WritePacket(t, wire.TypeProtocolVersion, wire.EncodeVersion(version), 0); err != nil {
		return nil, fmt.Errorf("handshake: write version: %w", err)
	}
	h, payload, err := readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read version: %w", err)
	}
	if h.Type != wire.TypeProtocolVersion {
		return nil, fmt.Errorf("handshake: expected PROTOCOL_VERSION, got %s", h.Type)
	}
	serverVersion, err := wire.ParseVersion(payload)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse version: %w", err)
	}
	if err := sess.ExchangeVersion(cryptosession.VersionInfo{
		Major:              serverVersion.Major,
		Minor:              serverVersion.Minor,
		SupportsEncryption: serverVersion.SupportsEncryption,
		CompressionMask:    serverVersion.CompressionMask,
		FeatureFlags:       serverVersion.FeatureFlags,
	}); err != nil {
		return nil, fmt.Errorf("handshake: exchange version: %w", err)
	}

	// Phase 2: capabilities & parameters. The bitmask advertises every
	// algorithm this implementation supports; the server picks.
	if err := wire.WritePacket(t, wire.TypeCryptoCapabilities, []byte{0x01}, 0); err != nil {
		return nil, fmt.Errorf("handshake: write capabilities: %w", err)
	}
	h, _, err = readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read parameters: %w", err)
	}
	if h.Type != wire.TypeCryptoParameters {
		return nil, fmt.Errorf("handshake: expected CRYPTO_PARAMETERS, got %s", h.Type)
	}
	if _, err := sess.NegotiateParameters(); err != nil {
		return nil, fmt.Errorf("handshake: negotiate parameters: %w", err)
	}

	// Phase 3: key exchange; the server's public key arrives first.
	h, payload, err = readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read key exchange: %w", err)
	}
	if h.Type != wire.TypeKeyExchangeInit {
		return nil, fmt.Errorf("handshake: expected KEY_EXCHANGE_INIT, got %s", h.Type)
	}
	serverPub, err := wire.ParseKeyExchangeInit(payload)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse key exchange: %w", err)
	}
	localPub := sess.LocalPublicKey()
	if err := wire.WritePacket(t, wire.TypeKeyExchangeInit, wire.EncodeKeyExchangeInit(localPub), 0); err != nil {
		return nil, fmt.Errorf("handshake: write key exchange: %w", err)
	}
	if err := sess.CompleteKeyExchange(serverPub, false); err != nil {
		return nil, fmt.Errorf("handshake: complete key exchange: %w", err)
	}

	// Phase 4: authentication. When a server identity is pinned, the
	// challenge must carry a valid signature by it; a missing or forged
	// signature aborts before any credentials are sent.
	h, payload, err = readHandshakePacket(t)
	if err != nil {
		return nil, fmt.Errorf("handshake: read auth challenge: %w", err)
	}
	if h.Type != wire.TypeAuthChallenge {
		return nil, fmt.Errorf("handshake: expected AUTH_CHALLENGE, got %s", h.Type)
	}
	if len(cfg.ExpectedServerPublicKey) > 0 {
		digest, signature, err := wire.ParseAuthChallenge(payload)
		if err != nil {
			return nil, fmt.Errorf("handshake: parse auth challenge: %w", err)
		}
		if len(signature) == 0 {
			return nil, fmt.Errorf("handshake: server sent no identity signature")
		}
		challenge := cryptosession.AuthChallenge{Challenge: digest, Signature: signature}
		if !cryptosession.VerifyServerSignature(cfg.ExpectedServerPublicKey, challenge) {
			return nil, fmt.Errorf("handshake: server identity verification failed")
		}
	}
	var response []byte
	if cfg.IdentityPrivateKey != nil {
		response = wire.EncodeAuthResponse(cfg.IdentityPrivateKey.Public().(ed25519.PublicKey))
	}
	if err := wire.WritePacket(t, wire.TypeAuthResponse, response, 0); err != nil {
		return nil, fmt.Errorf("handshake: write auth response: %w", err)
	}
	if _, err := sess.SignChallenge(); err != nil {
		return nil, fmt.Errorf("handshake: sign challenge: %w", err)
	}
	if err := sess.Ready(); err != nil {
		return nil, fmt.Errorf("handshake: ready: %w", err)
	}
	return sess, nil
}

func readHandshakePacket(t transport.Transport) (wire.Header, []byte, error) {
	if err := t.SetReadDeadline(time.Now().Add(HandshakeStepTimeout)); err != nil {
		return wire.Header{}, nil, fmt.Errorf("set read deadline: %w", err)
	}
	return wire.ReadPacket(t)
}
