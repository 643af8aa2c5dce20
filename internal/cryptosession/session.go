// Package cryptosession implements the per-client handshake state machine
// and the AEAD envelope used once a session reaches READY. The handshake
// negotiates X25519 key exchange, XSalsa20-Poly1305 (nacl/secretbox)
// confidentiality, an optional Ed25519 server-identity signature, and an
// optional Argon2id password mix.
package cryptosession

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the secretbox key size.
const KeySize = 32

// NonceSize is the secretbox nonce size.
const NonceSize = 24

// MACSize is the secretbox authentication tag size.
const MACSize = 16

// State is a position in the handshake state machine.
type State int

const (
	StateInit State = iota
	StateVersionExchanged
	StateParametersNegotiated
	StateKeyExchanged
	StateAuthChallenged
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateVersionExchanged:
		return "VERSION_EXCHANGED"
	case StateParametersNegotiated:
		return "PARAMETERS_NEGOTIATED"
	case StateKeyExchanged:
		return "KEY_EXCHANGED"
	case StateAuthChallenged:
		return "AUTH_CHALLENGED"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrOutOfOrder is returned when a handshake message arrives for a state
// other than the one it is valid in.
var ErrOutOfOrder = errors.New("cryptosession: message out of order for current state")

// ErrNotSupported is returned when either party does not support
// encryption and no no-encrypt override is configured.
var ErrNotSupported = errors.New("cryptosession: encryption not supported by peer")

// ErrAllowlistRejected is returned when a client's public key is not on
// the configured allow-list.
var ErrAllowlistRejected = errors.New("cryptosession: client public key rejected by allow-list")

// ErrDecryptFailed is returned by Open on authentication failure.
var ErrDecryptFailed = errors.New("cryptosession: decrypt failed")

// VersionInfo is exchanged in PROTOCOL_VERSION.
type VersionInfo struct {
	Major, Minor       uint16
	SupportsEncryption bool
	CompressionMask    uint32
	FeatureFlags       uint32
}

// Params is the result of capability negotiation, sent as CRYPTO_PARAMETERS.
type Params struct {
	KeyExchangeAlgo string // "x25519"
	CipherAlgo      string // "xsalsa20poly1305"
	SignatureAlgo   string // "ed25519" or ""
	KeySize         int
	NonceSize       int
	MACSize         int
}

// DefaultParams is this hub's fixed algorithm selection.
func DefaultParams() Params {
	return Params{
		KeyExchangeAlgo: "x25519",
		CipherAlgo:      "xsalsa20poly1305",
		SignatureAlgo:   "ed25519",
		KeySize:         KeySize,
		NonceSize:       NonceSize,
		MACSize:         MACSize,
	}
}

// Config configures a Session's server-side behavior.
type Config struct {
	// NoEncryptMode allows the handshake to reach READY without
	// encryption when a peer declares SupportsEncryption=false. Off by
	// default; the hub normally drops such sessions.
	NoEncryptMode bool

	// IdentityPrivateKey, if set, is used to sign the auth challenge.
	IdentityPrivateKey ed25519.PrivateKey

	// Password, if non-empty, is mixed via Argon2id into the derived keys.
	Password []byte

	// ExpectedServerPublicKey, if set, pins the server identity a client
	// session will accept: the AUTH_CHALLENGE must carry a signature by
	// this key or the client aborts the handshake. Client-side only.
	ExpectedServerPublicKey ed25519.PublicKey

	// Allowlist, if non-nil, restricts which client Ed25519 public keys may
	// complete authentication. Keyed by raw 32-byte public key bytes.
	Allowlist map[[ed25519.PublicKeySize]byte]struct{}
}

// Session is one client's handshake + post-handshake AEAD state.
type Session struct {
	cfg   Config
	state State

	localPriv, localPub   [32]byte
	remotePub             [32]byte
	sharedSecret          [32]byte
	transcript            []byte // accumulates handshake bytes for the auth challenge binding
	writeKey, readKey     [KeySize]byte
	writeNonceCtr         uint64
	readNonceCtr          uint64
	remoteAuthenticated   bool
}

// NewSession begins a fresh handshake in StateInit, generating this side's
// ephemeral X25519 key pair.
func NewSession(cfg Config) (*Session, error) {
	s := &Session{cfg: cfg, state: StateInit}

	if _, err := rand.Read(s.localPriv[:]); err != nil {
		return nil, fmt.Errorf("cryptosession: generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&s.localPub, &s.localPriv)

	return s, nil
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// fail transitions the session to FAILED and returns the wrapped error.
func (s *Session) fail(err error) error {
	s.state = StateFailed
	return err
}

// ExchangeVersion validates the peer's VersionInfo and advances to
// VERSION_EXCHANGED. Both sides must support encryption unless
// NoEncryptMode is configured.
func (s *Session) ExchangeVersion(peer VersionInfo) error {
	if s.state != StateInit {
		return s.fail(ErrOutOfOrder)
	}
	if !peer.SupportsEncryption && !s.cfg.NoEncryptMode {
		return s.fail(ErrNotSupported)
	}
	s.transcript = binary.BigEndian.AppendUint16(s.transcript, peer.Major)
	s.transcript = binary.BigEndian.AppendUint16(s.transcript, peer.Minor)
	s.state = StateVersionExchanged
	return nil
}

// NegotiateParameters records the chosen algorithm parameters and advances
// to PARAMETERS_NEGOTIATED. The hub always selects DefaultParams(); this
// records the client's acknowledgement of that selection into the
// transcript.
func (s *Session) NegotiateParameters() (Params, error) {
	if s.state != StateVersionExchanged {
		return Params{}, s.fail(ErrOutOfOrder)
	}
	p := DefaultParams()
	s.transcript = append(s.transcript, []byte(p.KeyExchangeAlgo+p.CipherAlgo+p.SignatureAlgo)...)
	s.state = StateParametersNegotiated
	return p, nil
}

// LocalPublicKey returns this side's X25519 public key to send as
// KEY_EXCHANGE_INIT.
func (s *Session) LocalPublicKey() [32]byte {
	return s.localPub
}

// CompleteKeyExchange consumes the peer's X25519 public key, derives the
// shared secret (optionally mixed with a configured password via
// Argon2id), derives per-direction symmetric keys, and advances to
// KEY_EXCHANGED. serverSide selects which derived key is used for which
// direction so that one party's write key is the other's read key.
func (s *Session) CompleteKeyExchange(peerPublicKey [32]byte, serverSide bool) error {
	if s.state != StateParametersNegotiated {
		return s.fail(ErrOutOfOrder)
	}
	s.remotePub = peerPublicKey
	s.transcript = append(s.transcript, s.localPub[:]...)
	s.transcript = append(s.transcript, peerPublicKey[:]...)

	shared, err := curve25519.X25519(s.localPriv[:], peerPublicKey[:])
	if err != nil {
		return s.fail(fmt.Errorf("x25519: %w", err))
	}
	copy(s.sharedSecret[:], shared)

	serverToClient, clientToServer := deriveDirectionalKeys(s.sharedSecret, s.cfg.Password)

	if serverSide {
		s.writeKey, s.readKey = serverToClient, clientToServer
	} else {
		s.writeKey, s.readKey = clientToServer, serverToClient
	}

	s.state = StateKeyExchanged
	return nil
}

// deriveDirectionalKeys derives two independent 32-byte keys from the
// shared X25519 secret, mixing in an optional password via Argon2id so
// that an attacker without the password cannot complete the session even
// with the X25519 secret.
func deriveDirectionalKeys(shared [32]byte, password []byte) (serverToClient, clientToServer [KeySize]byte) {
	material := shared[:]
	if len(password) > 0 {
		material = argon2.IDKey(password, shared[:], 1, 64*1024, 4, 32)
	}

	h1 := sha256.Sum256(append(append([]byte{}, material...), 's', '2', 'c'))
	h2 := sha256.Sum256(append(append([]byte{}, material...), 'c', '2', 's'))
	copy(serverToClient[:], h1[:])
	copy(clientToServer[:], h2[:])
	return
}

// AuthChallenge is sent by the server, if it has an identity key, to bind
// the session transcript.
type AuthChallenge struct {
	Challenge []byte
	Signature []byte
}

// SignChallenge signs the current transcript hash with the configured
// identity key and advances to AUTH_CHALLENGED. Without an identity key it
// returns an empty challenge and signature and still advances to
// AUTH_CHALLENGED.
func (s *Session) SignChallenge() (AuthChallenge, error) {
	if s.state != StateKeyExchanged {
		return AuthChallenge{}, s.fail(ErrOutOfOrder)
	}
	if s.cfg.IdentityPrivateKey == nil {
		s.state = StateAuthChallenged
		return AuthChallenge{}, nil
	}
	digest := sha256.Sum256(s.transcript)
	sig := ed25519.Sign(s.cfg.IdentityPrivateKey, digest[:])
	s.state = StateAuthChallenged
	return AuthChallenge{Challenge: digest[:], Signature: sig}, nil
}

// VerifyServerSignature verifies the server's signature over the
// transcript, run on the client side. Not required when no server
// identity key is configured.
func VerifyServerSignature(serverPublicKey ed25519.PublicKey, challenge AuthChallenge) bool {
	if len(challenge.Signature) == 0 {
		return true
	}
	return ed25519.Verify(serverPublicKey, challenge.Challenge, challenge.Signature)
}

// AuthenticateClient checks a client's Ed25519 public key against the
// configured allow-list, if any, and advances to READY. Must be called
// exactly once, after SignChallenge.
func (s *Session) AuthenticateClient(clientPublicKey ed25519.PublicKey) error {
	if s.state != StateAuthChallenged {
		return s.fail(ErrOutOfOrder)
	}
	if s.cfg.Allowlist != nil {
		var key [ed25519.PublicKeySize]byte
		copy(key[:], clientPublicKey)
		if _, ok := s.cfg.Allowlist[key]; !ok {
			return s.fail(ErrAllowlistRejected)
		}
		s.remoteAuthenticated = true
	}
	s.state = StateReady
	return nil
}

// Ready marks the session READY without a client-identity check, used
// when no allow-list is configured.
func (s *Session) Ready() error {
	if s.state != StateAuthChallenged {
		return s.fail(ErrOutOfOrder)
	}
	s.state = StateReady
	return nil
}

// Seal encrypts plaintext under the session's write key, using the
// next value of the per-direction write nonce counter. Fatal to reuse a
// nonce; the counter is owned exclusively by this Session.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	if s.state != StateReady {
		return nil, fmt.Errorf("cryptosession: seal called before READY (state=%s)", s.state)
	}
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], s.writeNonceCtr)
	s.writeNonceCtr++

	out := make([]byte, 0, NonceSize+len(plaintext)+MACSize)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, &s.writeKey)
	return out, nil
}

// Open decrypts an envelope produced by the peer's Seal, enforcing a
// monotonically increasing nonce from the peer to reject replays.
func (s *Session) Open(envelope []byte) ([]byte, error) {
	if s.state != StateReady {
		return nil, fmt.Errorf("cryptosession: open called before READY (state=%s)", s.state)
	}
	if len(envelope) < NonceSize+MACSize {
		return nil, ErrDecryptFailed
	}
	var nonce [NonceSize]byte
	copy(nonce[:], envelope[:NonceSize])

	ctr := binary.BigEndian.Uint64(nonce[NonceSize-8:])
	if ctr < s.readNonceCtr {
		return nil, ErrDecryptFailed
	}

	plaintext, ok := secretbox.Open(nil, envelope[NonceSize:], &nonce, &s.readKey)
	if !ok {
		s.state = StateFailed
		return nil, ErrDecryptFailed
	}
	s.readNonceCtr = ctr + 1
	return plaintext, nil
}

// ConstantTimeEqualPublicKey compares two Ed25519 public keys in constant
// time, used when checking a claimed identity against a known value.
func ConstantTimeEqualPublicKey(a, b ed25519.PublicKey) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
