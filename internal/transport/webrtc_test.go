package transport

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTransportPair wires two in-process peer connections through a
// loopback offer/answer exchange (host candidates only, no STUN) and
// returns both ends wrapped as transports.
func newTransportPair(t *testing.T) (*WebRTCTransport, *WebRTCTransport) {
	t.Helper()

	offerPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	answerPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)

	ordered := false
	offerDC, err := offerPC.CreateDataChannel("wire", &webrtc.DataChannelInit{Ordered: &ordered})
	require.NoError(t, err)

	offerOpen := make(chan struct{})
	offerDC.OnOpen(func() { close(offerOpen) })

	answerDCCh := make(chan *webrtc.DataChannel, 1)
	answerPC.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { answerDCCh <- dc })
	})

	offer, err := offerPC.CreateOffer(nil)
	require.NoError(t, err)
	offerGathered := webrtc.GatheringCompletePromise(offerPC)
	require.NoError(t, offerPC.SetLocalDescription(offer))
	<-offerGathered
	require.NoError(t, answerPC.SetRemoteDescription(*offerPC.LocalDescription()))

	answer, err := answerPC.CreateAnswer(nil)
	require.NoError(t, err)
	answerGathered := webrtc.GatheringCompletePromise(answerPC)
	require.NoError(t, answerPC.SetLocalDescription(answer))
	<-answerGathered
	require.NoError(t, offerPC.SetRemoteDescription(*answerPC.LocalDescription()))

	select {
	case <-offerOpen:
	case <-time.After(10 * time.Second):
		t.Fatal("offer data channel did not open")
	}
	var answerDC *webrtc.DataChannel
	select {
	case answerDC = <-answerDCCh:
	case <-time.After(10 * time.Second):
		t.Fatal("answer data channel did not open")
	}

	a := NewWebRTCTransport(offerPC, offerDC, "offer")
	b := NewWebRTCTransport(answerPC, answerDC, "answer")
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func readFull(t *testing.T, tr *WebRTCTransport, n int) []byte {
	t.Helper()
	require.NoError(t, tr.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, n)
	got := 0
	for got < n {
		r, err := tr.Read(buf[got:])
		require.NoError(t, err)
		got += r
	}
	return buf
}

func TestWebRTCTransportRoundTrip(t *testing.T) {
	a, b := newTransportPair(t)

	msg := []byte("framed packet bytes")
	n, err := a.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)
	assert.Equal(t, msg, readFull(t, b, len(msg)))

	reply := []byte("reply bytes")
	_, err = b.Write(reply)
	require.NoError(t, err)
	assert.Equal(t, reply, readFull(t, a, len(reply)))

	assert.Equal(t, "offer", a.RemoteAddr())
	assert.Equal(t, "answer", b.RemoteAddr())
}

func TestWebRTCTransportReadDeadline(t *testing.T) {
	a, _ := newTransportPair(t)

	require.NoError(t, a.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err := a.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestWebRTCTransportConnectionStateAndClose(t *testing.T) {
	a, b := newTransportPair(t)

	require.Eventually(t, func() bool {
		return a.ConnectionState() == webrtc.PeerConnectionStateConnected &&
			b.ConnectionState() == webrtc.PeerConnectionStateConnected
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, a.Close())
	_, err := a.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}
