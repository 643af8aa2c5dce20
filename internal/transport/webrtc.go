package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// WebRTCTransport carries framed wire packets over an unordered, unreliable
// *webrtc.DataChannel, as the hub's optional NAT-traversal-friendly
// alternative to a raw TCP socket. Connection state from
// OnConnectionStateChange is cached behind a mutex rather than read back
// through pc.ConnectionState(), which can block on pion's internal lock.
type WebRTCTransport struct {
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	remoteAddr string

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	readCh chan struct{}

	connStateMu     sync.RWMutex
	cachedConnState webrtc.PeerConnectionState

	readDeadline time.Time
}

// NewWebRTCPeerConnection creates a bare PeerConnection (no media tracks —
// this transport only ever carries data-channel bytes) suitable for
// dialing or accepting an offer for one client's WebRTCTransport.
func NewWebRTCPeerConnection() (*webrtc.PeerConnection, error) {
	api := webrtc.NewAPI()
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transport: create peer connection: %w", err)
	}
	return pc, nil
}

// NewWebRTCTransport wraps an already-open data channel on pc as a
// Transport. The data channel is configured unordered+unreliable by the
// caller (matching the hub's own framing, which tolerates reordering and
// loss no worse than the wire protocol already handles).
func NewWebRTCTransport(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, remoteAddr string) *WebRTCTransport {
	wt := &WebRTCTransport{
		pc:              pc,
		dc:              dc,
		remoteAddr:      remoteAddr,
		readCh:          make(chan struct{}, 1),
		cachedConnState: pc.ConnectionState(),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		wt.connStateMu.Lock()
		wt.cachedConnState = state
		wt.connStateMu.Unlock()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		wt.mu.Lock()
		if !wt.closed {
			wt.buf.Write(msg.Data)
		}
		wt.mu.Unlock()
		select {
		case wt.readCh <- struct{}{}:
		default:
		}
	})

	dc.OnClose(func() {
		wt.mu.Lock()
		wt.closed = true
		wt.mu.Unlock()
		select {
		case wt.readCh <- struct{}{}:
		default:
		}
	})

	return wt
}

// ConnectionState returns the cached peer connection state without
// blocking on pc.ConnectionState()'s internal lock.
func (w *WebRTCTransport) ConnectionState() webrtc.PeerConnectionState {
	w.connStateMu.RLock()
	defer w.connStateMu.RUnlock()
	return w.cachedConnState
}

// Read drains bytes from the data channel's message buffer, blocking (up
// to the configured read deadline) until at least one byte is available.
func (w *WebRTCTransport) Read(p []byte) (int, error) {
	for {
		w.mu.Lock()
		if w.buf.Len() > 0 {
			n, _ := w.buf.Read(p)
			w.mu.Unlock()
			return n, nil
		}
		if w.closed {
			w.mu.Unlock()
			return 0, ErrClosed
		}
		deadline := w.readDeadline
		w.mu.Unlock()

		var timeout <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, context.DeadlineExceeded
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-w.readCh:
		case <-timeout:
			return 0, context.DeadlineExceeded
		}
	}
}

// Write sends p as one unordered DataChannel message.
func (w *WebRTCTransport) Write(p []byte) (int, error) {
	if err := w.dc.Send(p); err != nil {
		return 0, fmt.Errorf("transport: webrtc send: %w", err)
	}
	return len(p), nil
}

// Close tears down the data channel and its peer connection.
func (w *WebRTCTransport) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	_ = w.dc.Close()
	return w.pc.Close()
}

// RemoteAddr returns the remote identity this transport was constructed
// with (WebRTC has no socket-level peer address to report).
func (w *WebRTCTransport) RemoteAddr() string {
	return w.remoteAddr
}

// SetReadDeadline bounds the next Read call.
func (w *WebRTCTransport) SetReadDeadline(t time.Time) error {
	w.mu.Lock()
	w.readDeadline = t
	w.mu.Unlock()
	return nil
}
