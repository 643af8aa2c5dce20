package host

import (
	"bytes"
	"crypto/ed25519"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/config"
	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/obs/logger"
	"github.com/ethan/termcast-hub/internal/transport"
	"github.com/ethan/termcast-hub/internal/wire"
	"github.com/ethan/termcast-hub/internal/workers"
)

func testConfig() config.HostConfig {
	return config.HostConfig{
		Port:              0, // ephemeral
		IPv4Bind:          "127.0.0.1",
		MaxClients:        4,
		EncryptionEnabled: true,
	}
}

// testClient is one connected peer in a host test: its transport and its
// established crypto session.
type testClient struct {
	tr   *transport.TCPTransport
	sess *cryptosession.Session
}

func connectClient(t *testing.T, h *Host) *testClient {
	t.Helper()

	addrs := h.BoundAddrs()
	require.NotEmpty(t, addrs)
	conn, err := net.Dial("tcp", addrs[0])
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tr := transport.NewTCPTransport(conn)
	sess, err := workers.ClientHandshake(tr, cryptosession.Config{},
		wire.VersionPayload{Major: 1, Minor: 0, SupportsEncryption: true})
	require.NoError(t, err)
	return &testClient{tr: tr, sess: sess}
}

// send seals and writes one data-plane packet.
func (c *testClient) send(t *testing.T, typ wire.Type, payload []byte) {
	t.Helper()
	sealed, err := c.sess.Seal(payload)
	require.NoError(t, err)
	require.NoError(t, wire.WritePacket(c.tr, typ, sealed, 0))
}

// readPacket reads one packet within the deadline, decrypting data-plane
// payloads.
func (c *testClient) readPacket(t *testing.T, deadline time.Duration) (wire.Header, []byte) {
	t.Helper()
	require.NoError(t, c.tr.SetReadDeadline(time.Now().Add(deadline)))
	h, payload, err := wire.ReadPacket(c.tr)
	require.NoError(t, err)
	plain, err := c.sess.Open(payload)
	require.NoError(t, err)
	return h, plain
}

func startHost(t *testing.T, cbs Callbacks) *Host {
	t.Helper()
	h, err := New(testConfig(), logger.Default(), cbs)
	require.NoError(t, err)
	require.NoError(t, h.Start())
	t.Cleanup(h.Stop)
	return h
}

func TestSingleClientJoinNoStreams(t *testing.T) {
	joined := make(chan client.ID, 1)
	h := startHost(t, Callbacks{
		OnClientJoin: func(id client.ID) { joined <- id },
	})

	c := connectClient(t, h)

	var id client.ID
	select {
	case id = <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("on_client_join not fired")
	}

	c.send(t, wire.TypeClientJoin, wire.EncodeClientJoin(wire.ClientJoinPayload{DisplayName: "A"}))
	c.send(t, wire.TypeClientCapabilities, wire.EncodeCapabilities(wire.CapabilitiesPayload{
		TerminalWidth:  80,
		TerminalHeight: 24,
		ColorLevel:     byte(client.ColorTrueColor),
		RenderMode:     byte(client.RenderHalfBlock),
		DesiredFPS:     60,
	}))

	require.Eventually(t, func() bool {
		info, err := h.FindClient(id)
		return err == nil && info.DisplayName == "A" && info.TerminalWidth == 80 && info.TerminalHeight == 24
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.ClientCount())
}

func TestPingPong(t *testing.T) {
	h := startHost(t, Callbacks{})
	c := connectClient(t, h)

	c.send(t, wire.TypePing, nil)
	header, _ := c.readPacket(t, 2*time.Second)
	assert.Equal(t, wire.TypePong, header.Type)
}

func TestClientLeaveDecreasesCount(t *testing.T) {
	left := make(chan client.ID, 1)
	h := startHost(t, Callbacks{
		OnClientLeave: func(id client.ID) { left <- id },
	})

	c := connectClient(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.send(t, wire.TypeClientLeave, nil)

	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("on_client_leave not fired")
	}
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBadCRCDisconnects(t *testing.T) {
	left := make(chan client.ID, 1)
	h := startHost(t, Callbacks{
		OnClientLeave: func(id client.ID) { left <- id },
	})
	c := connectClient(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A frame whose payload does not match its header CRC.
	pkt := wire.EncodePacket(wire.TypeImageFrame, []byte{1, 2, 3, 4}, 0)
	pkt[len(pkt)-1] ^= 0xFF
	_, err := c.tr.Write(pkt)
	require.NoError(t, err)

	// The final plaintext REMOTE_LOG then ERROR arrive before the close.
	require.NoError(t, c.tr.SetReadDeadline(time.Now().Add(2*time.Second)))
	h1, logPayload, err := wire.ReadPacket(c.tr)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeRemoteLog, h1.Type)
	_, msg, err := wire.ParseRemoteLog(logPayload)
	require.NoError(t, err)
	assert.Contains(t, msg, "rotocol violation")

	h2, errPayload, err := wire.ReadPacket(c.tr)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeError, h2.Type)
	code, _, err := wire.ParseError(errPayload)
	require.NoError(t, err)
	assert.Equal(t, uint32(wire.ErrorProtocolViolation), code)

	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("on_client_leave not fired")
	}
	assert.Equal(t, 0, h.ClientCount())
}

func TestMemoryParticipantVideoReachesClient(t *testing.T) {
	h := startHost(t, Callbacks{})

	mem, err := h.AddMemoryParticipant()
	require.NoError(t, err)
	_, err = h.AddMemoryParticipant()
	assert.ErrorIs(t, err, ErrMemoryParticipantExists)

	c := connectClient(t, h)
	c.send(t, wire.TypeClientCapabilities, wire.EncodeCapabilities(wire.CapabilitiesPayload{
		TerminalWidth:  80,
		TerminalHeight: 24,
		DesiredFPS:     30,
	}))

	// Inject all-white frames so the client's render worker has a source.
	rgb := bytes.Repeat([]byte{0xFF}, 4*4*3)
	require.NoError(t, h.InjectFrame(mem, rgb, 4, 4))

	// The first composited frame must be preceded by the clear-screen
	// barrier (grid 0 -> 1).
	sawClear := false
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no ASCII_FRAME within deadline")
		header, payload := c.readPacket(t, time.Until(deadline))
		if header.Type == wire.TypeClearConsole {
			sawClear = true
			continue
		}
		if header.Type == wire.TypeASCIIFrame {
			assert.True(t, sawClear, "CLEAR_CONSOLE must precede the first frame after a grid change")
			assert.NotEmpty(t, payload)
			break
		}
	}
}

func TestStopJoinsAllWorkers(t *testing.T) {
	h, err := New(testConfig(), logger.Default(), Callbacks{})
	require.NoError(t, err)
	require.NoError(t, h.Start())

	connectClient(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return; a worker leaked")
	}
	assert.Equal(t, 0, h.ClientCount())
}

func TestBroadcastFrameBypassesRenderer(t *testing.T) {
	h := startHost(t, Callbacks{})
	c := connectClient(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.BroadcastFrame([]byte("banner"))
	header, payload := c.readPacket(t, 2*time.Second)
	assert.Equal(t, wire.TypeASCIIFrame, header.Type)
	assert.Equal(t, []byte("banner"), payload)
}

func TestServerIdentityPinnedByClient(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "identity.key")
	require.NoError(t, os.WriteFile(keyPath, priv.Seed(), 0o600))

	cfg := testConfig()
	cfg.IdentityKeyPath = keyPath
	h, err := New(cfg, logger.Default(), Callbacks{})
	require.NoError(t, err)
	require.NoError(t, h.Start())
	t.Cleanup(h.Stop)

	conn, err := net.Dial("tcp", h.BoundAddrs()[0])
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The client pins the host's identity: the handshake only completes
	// because the AUTH_CHALLENGE carries a valid signature by that key.
	tr := transport.NewTCPTransport(conn)
	sess, err := workers.ClientHandshake(tr,
		cryptosession.Config{ExpectedServerPublicKey: pub},
		wire.VersionPayload{Major: 1, Minor: 0, SupportsEncryption: true})
	require.NoError(t, err)
	require.Equal(t, cryptosession.StateReady, sess.State())
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFindClientUnknownID(t *testing.T) {
	h := startHost(t, Callbacks{})
	_, err := h.FindClient(client.ID(9999))
	assert.ErrorIs(t, err, ErrNoSuchClient)
}
