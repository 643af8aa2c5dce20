package workers

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/obs/logger"
	"github.com/ethan/termcast-hub/internal/registry"
	"github.com/ethan/termcast-hub/internal/wire"
)

// fakeTransport records every written packet and serves reads from a
// pre-loaded buffer.
type fakeTransport struct {
	mu     sync.Mutex
	wr     bytes.Buffer
	rd     bytes.Buffer
	closed bool
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rd.Len() == 0 {
		return 0, io.EOF
	}
	return f.rd.Read(p)
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wr.Write(p)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() string              { return "fake" }
func (f *fakeTransport) SetReadDeadline(time.Time) error { return nil }

// writtenTypes decodes every packet written so far and returns their types.
func (f *fakeTransport) writtenTypes(t *testing.T) []wire.Type {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var types []wire.Type
	buf := f.wr.Bytes()
	for len(buf) > 0 {
		h, _, n, err := wire.ParsePacket(buf)
		require.NoError(t, err)
		types = append(types, h.Type)
		buf = buf[n:]
	}
	return types
}

func testDeps(t *testing.T) *Deps {
	t.Helper()
	return &Deps{
		Registry:                 registry.New(),
		Logger:                   logger.Default(),
		MaxClients:               32,
		EgressAudioQueueCapacity: 128,
		DefaultFPS:               60,
		MaxFPS:                   60,
	}
}

func newTestClient(t *testing.T, deps *Deps, tr *fakeTransport) *client.Record {
	t.Helper()
	rec := client.New(deps.Registry.NextID(), "fake", tr, deps.EgressAudioQueueCapacity)
	deps.Registry.Add(rec)
	return rec
}

func TestDisconnectForBadDataIdempotent(t *testing.T) {
	deps := testDeps(t)
	tr := &fakeTransport{}
	rec := newTestClient(t, deps, tr)

	var errCount int
	deps.Callbacks.OnError = func(client.ID, error) { errCount++ }

	disconnectForBadData(rec, deps, "protocol violation: test")
	disconnectForBadData(rec, deps, "protocol violation: test")

	assert.Equal(t, []wire.Type{wire.TypeRemoteLog, wire.TypeError}, tr.writtenTypes(t))
	assert.Equal(t, 1, errCount)
	assert.False(t, rec.Active.Load())
	assert.True(t, rec.ShuttingDown.Load())
}

func TestSendCycleGridChangeBarrier(t *testing.T) {
	deps := testDeps(t)
	tr := &fakeTransport{}
	rec := newTestClient(t, deps, tr)

	slot := rec.EgressVideo.BeginWrite()
	slot.Data = []byte("frame-1")
	rec.EgressVideo.Commit()
	rec.LastRenderedGridSources.Store(2)

	state := &sendState{}
	require.NoError(t, SendCycle(rec, deps, state))
	assert.Equal(t, []wire.Type{wire.TypeClearConsole, wire.TypeASCIIFrame}, tr.writtenTypes(t))

	// Same frame again: nothing new goes out.
	require.NoError(t, SendCycle(rec, deps, state))
	assert.Len(t, tr.writtenTypes(t), 2)

	// New frame, unchanged grid: no barrier.
	slot = rec.EgressVideo.BeginWrite()
	slot.Data = []byte("frame-2")
	rec.EgressVideo.Commit()
	require.NoError(t, SendCycle(rec, deps, state))
	assert.Equal(t, []wire.Type{wire.TypeClearConsole, wire.TypeASCIIFrame, wire.TypeASCIIFrame}, tr.writtenTypes(t))

	// New frame with a changed grid: barrier precedes it.
	slot = rec.EgressVideo.BeginWrite()
	slot.Data = []byte("frame-3")
	rec.EgressVideo.Commit()
	rec.LastRenderedGridSources.Store(3)
	require.NoError(t, SendCycle(rec, deps, state))
	types := tr.writtenTypes(t)
	assert.Equal(t, wire.TypeClearConsole, types[len(types)-2])
	assert.Equal(t, wire.TypeASCIIFrame, types[len(types)-1])
}

func TestSendCycleAudioOutranksVideo(t *testing.T) {
	deps := testDeps(t)
	tr := &fakeTransport{}
	rec := newTestClient(t, deps, tr)

	require.NoError(t, rec.EgressAudio.Enqueue(uint16(wire.TypeAudioOpus), []byte("opus"), true))
	slot := rec.EgressVideo.BeginWrite()
	slot.Data = []byte("frame")
	rec.EgressVideo.Commit()
	rec.LastRenderedGridSources.Store(1)

	require.NoError(t, SendCycle(rec, deps, &sendState{}))
	assert.Equal(t, []wire.Type{wire.TypeAudioOpus, wire.TypeClearConsole, wire.TypeASCIIFrame}, tr.writtenTypes(t))
}

func TestRenderVideoFrameExcludesSelf(t *testing.T) {
	deps := testDeps(t)
	observer := newTestClient(t, deps, &fakeTransport{})
	observer.UpdateCaps(func(c *client.Caps) {
		c.TerminalWidth = 80
		c.TerminalHeight = 24
	})
	sender := newTestClient(t, deps, &fakeTransport{})
	sender.UpdateCaps(func(c *client.Caps) {
		c.TerminalWidth = 80
		c.TerminalHeight = 24
	})

	// Sender publishes one all-white 4x4 frame.
	rgb := bytes.Repeat([]byte{0xFF}, 4*4*3)
	slot := sender.IngressVideo.BeginWrite()
	slot.Data = rgb
	slot.Width, slot.Height = 4, 4
	sender.IngressVideo.Commit()
	sender.IsSendingVideo.Store(true)

	// The observer sees exactly one source: the sender, not itself.
	k := RenderVideoFrame(observer, deps)
	assert.Equal(t, 1, k)
	assert.False(t, observer.EgressVideo.Empty())
	assert.Equal(t, int64(1), observer.LastRenderedGridSources.Load())

	// The sender has no sending peers, so nothing is published.
	k = RenderVideoFrame(sender, deps)
	assert.Equal(t, 0, k)
	assert.True(t, sender.EgressVideo.Empty())
}

func TestRenderVideoFrameSkipsWithoutDimensions(t *testing.T) {
	deps := testDeps(t)
	observer := newTestClient(t, deps, &fakeTransport{})
	sender := newTestClient(t, deps, &fakeTransport{})
	sender.IsSendingVideo.Store(true)

	assert.Equal(t, 0, RenderVideoFrame(observer, deps))
	assert.True(t, observer.EgressVideo.Empty())
}

func TestAudioRenderTickBackpressureDropsFrame(t *testing.T) {
	deps := testDeps(t)
	rec := newTestClient(t, deps, &fakeTransport{})
	peer := newTestClient(t, deps, &fakeTransport{})
	peer.IsSendingAudio.Store(true)

	// Enough backlog to trip the catch-up read (960 samples per tick).
	samples := make([]float32, 2500)
	for i := range samples {
		samples[i] = 0.25
	}
	peer.IngressAudio.Write(samples)

	// Fill the egress queue past the backlog limit so the back-pressure
	// check (due on the 100th encode) drops the frame.
	for i := 0; i < egressBacklogLimit+1; i++ {
		require.NoError(t, rec.EgressAudio.Enqueue(uint16(wire.TypeAudioOpus), []byte("x"), true))
	}

	state := newAudioRenderState()
	state.encodeCount = backpressureCheckEvery - 1

	require.NoError(t, AudioRenderTick(rec, deps, state))
	assert.Empty(t, state.accum, "accumulator must be reset on drop")
	assert.Equal(t, egressBacklogLimit+1, rec.EgressAudio.Size(), "no packet enqueued on drop")
}

func TestAudioRenderTickNoSendingPeers(t *testing.T) {
	deps := testDeps(t)
	rec := newTestClient(t, deps, &fakeTransport{})
	newTestClient(t, deps, &fakeTransport{}) // silent peer

	state := newAudioRenderState()
	require.NoError(t, AudioRenderTick(rec, deps, state))
	assert.Empty(t, state.accum)
	assert.Equal(t, 0, rec.EgressAudio.Size())
}
