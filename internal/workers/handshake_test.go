package workers

import (
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/wire"
)

// pipeTransport adapts one end of a net.Pipe as a Transport.
type pipeTransport struct {
	net.Conn
}

func (p pipeTransport) RemoteAddr() string { return "pipe" }

// driveClientHandshake runs the client side of the handshake over t,
// mirroring ServerHandshake's message order.
func driveClientHandshake(t *testing.T, tr pipeTransport, cfg cryptosession.Config) *cryptosession.Session {
	t.Helper()

	sess, err := cryptosession.NewSession(cfg)
	require.NoError(t, err)

	// Phase 1: version.
	require.NoError(t, wire.WritePacket(tr, wire.TypeProtocolVersion,
		wire.EncodeVersion(wire.VersionPayload{Major: 1, Minor: 0, SupportsEncryption: true}), 0))
	h, payload, err := wire.ReadPacket(tr)
	require.NoError(t, err)
	require.Equal(t, wire.TypeProtocolVersion, h.Type)
	serverVersion, err := wire.ParseVersion(payload)
	require.NoError(t, err)
	require.NoError(t, sess.ExchangeVersion(cryptosession.VersionInfo{
		Major:              serverVersion.Major,
		Minor:              serverVersion.Minor,
		SupportsEncryption: serverVersion.SupportsEncryption,
	}))

	// Phase 2: capabilities & parameters.
	require.NoError(t, wire.WritePacket(tr, wire.TypeCryptoCapabilities, []byte{0x01}, 0))
	h, _, err = wire.ReadPacket(tr)
	require.NoError(t, err)
	require.Equal(t, wire.TypeCryptoParameters, h.Type)
	_, err = sess.NegotiateParameters()
	require.NoError(t, err)

	// Phase 3: key exchange; server sends first.
	h, payload, err = wire.ReadPacket(tr)
	require.NoError(t, err)
	require.Equal(t, wire.TypeKeyExchangeInit, h.Type)
	serverPub, err := wire.ParseKeyExchangeInit(payload)
	require.NoError(t, err)
	localPub := sess.LocalPublicKey()
	require.NoError(t, wire.WritePacket(tr, wire.TypeKeyExchangeInit, wire.EncodeKeyExchangeInit(localPub), 0))
	require.NoError(t, sess.CompleteKeyExchange(serverPub, false))

	// Phase 4: authentication.
	h, _, err = wire.ReadPacket(tr)
	require.NoError(t, err)
	require.Equal(t, wire.TypeAuthChallenge, h.Type)
	_, err = sess.SignChallenge()
	require.NoError(t, err)
	require.NoError(t, wire.WritePacket(tr, wire.TypeAuthResponse, nil, 0))
	require.NoError(t, sess.Ready())

	return sess
}

func TestServerHandshakeDerivesSharedKeys(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	type result struct {
		sess *cryptosession.Session
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		sess, err := ServerHandshake(pipeTransport{serverConn}, cryptosession.Config{})
		serverCh <- result{sess, err}
	}()

	clientSess := driveClientHandshake(t, pipeTransport{clientConn}, cryptosession.Config{})

	var server result
	select {
	case server = <-serverCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not complete")
	}
	require.NoError(t, server.err)
	require.Equal(t, cryptosession.StateReady, server.sess.State())

	// The authenticated first post-handshake packet proves both parties
	// computed the same AEAD key.
	sealed, err := clientSess.Seal([]byte("first packet"))
	require.NoError(t, err)
	opened, err := server.sess.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("first packet"), opened)

	sealed, err = server.sess.Seal([]byte("reply"))
	require.NoError(t, err)
	opened, err = clientSess.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), opened)
}

func TestHandshakeWithServerIdentitySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	type result struct {
		sess *cryptosession.Session
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		sess, err := ServerHandshake(pipeTransport{serverConn},
			cryptosession.Config{IdentityPrivateKey: priv})
		serverCh <- result{sess, err}
	}()

	// The client pins the server's public key; ClientHandshake must
	// verify the AUTH_CHALLENGE signature before sending its response.
	clientSess, err := ClientHandshake(pipeTransport{clientConn},
		cryptosession.Config{ExpectedServerPublicKey: pub},
		wire.VersionPayload{Major: 1, Minor: 0, SupportsEncryption: true})
	require.NoError(t, err)

	var server result
	select {
	case server = <-serverCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not complete")
	}
	require.NoError(t, server.err)
	require.Equal(t, cryptosession.StateReady, server.sess.State())
	require.Equal(t, cryptosession.StateReady, clientSess.State())

	sealed, err := server.sess.Seal([]byte("signed hello"))
	require.NoError(t, err)
	opened, err := clientSess.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("signed hello"), opened)
}

func TestHandshakeRejectsWrongServerIdentity(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	serverCh := make(chan error, 1)
	go func() {
		_, err := ServerHandshake(pipeTransport{serverConn},
			cryptosession.Config{IdentityPrivateKey: priv})
		serverCh <- err
	}()

	// Pinned to the wrong key: the client must abort at the challenge.
	_, err = ClientHandshake(pipeTransport{clientConn},
		cryptosession.Config{ExpectedServerPublicKey: otherPub},
		wire.VersionPayload{Major: 1, Minor: 0, SupportsEncryption: true})
	assert.ErrorContains(t, err, "server identity verification failed")

	// The aborted client never sends AUTH_RESPONSE; closing its end
	// unblocks the server, which must fail rather than reach READY.
	clientConn.Close()
	select {
	case err := <-serverCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not fail")
	}
}

func TestServerHandshakeRejectsWrongFirstPacket(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ServerHandshake(pipeTransport{serverConn}, cryptosession.Config{})
		errCh <- err
	}()

	require.NoError(t, wire.WritePacket(pipeTransport{clientConn}, wire.TypePing, nil, 0))

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not fail")
	}
}
