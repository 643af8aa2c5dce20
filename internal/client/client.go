// Package client defines ClientRecord, the per-connected-peer state block
// shared by every worker goroutine that serves one client. Every
// interior-mutable field is either atomic, behind capsMu, or owned by one
// of the buffer/queue types' own internal synchronization — never a raw
// field write from more than one worker.
package client

import (
	"sync"
	"sync/atomic"

	"github.com/ethan/termcast-hub/internal/codecs"
	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/packetqueue"
	"github.com/ethan/termcast-hub/internal/ringbuffer"
	"github.com/ethan/termcast-hub/internal/transport"
	"github.com/ethan/termcast-hub/internal/videobuf"
)

// ID is a stable, monotonically-assigned client identifier. Never reused
// within a process lifetime.
type ID uint32

// ColorLevel mirrors ascii.ColorLevel without importing the render
// package's whole contract into the data model.
type ColorLevel int

const (
	ColorMono ColorLevel = iota
	Color16
	Color256
	ColorTrueColor
)

// RenderMode mirrors ascii.RenderMode.
type RenderMode int

const (
	RenderForeground RenderMode = iota
	RenderBackground
	RenderHalfBlock
)

// AudioIngressCapacity requests ~200ms at 48kHz for the ingress ring
// buffer; ringbuffer.New rounds it up to 16384 samples (~341ms).
const AudioIngressCapacity = 9600

// Caps holds the capability/display fields written under capsMu.
type Caps struct {
	DisplayName        string
	CanSendVideo       bool
	CanSendAudio       bool
	WantsStretch       bool
	TerminalWidth      int
	TerminalHeight     int
	ColorLevel         ColorLevel
	RenderMode         RenderMode
	PaletteSelector    string
	PaletteCustomChars string
	DesiredFPS         int
}

// Record is one connected peer's complete state. Created before any worker
// is spawned for it; not deallocated until every worker referencing it has
// been joined.
type Record struct {
	ID            ID
	RemoteAddress string

	transportMu sync.RWMutex
	transportV  transport.Transport

	capsMu sync.RWMutex
	caps   Caps

	IsSendingVideo atomic.Bool
	IsSendingAudio atomic.Bool
	FramesReceived atomic.Uint64

	IngressVideo *videobuf.DoubleBuffer
	IngressAudio *ringbuffer.RingBuffer[float32]

	EgressVideo *videobuf.DoubleBuffer
	EgressAudio *packetqueue.Queue

	Crypto *cryptosession.Session

	Active                      atomic.Bool
	ShuttingDown                atomic.Bool
	ProtocolDisconnectRequested atomic.Bool

	LastRenderedGridSources atomic.Int64

	// SendMu serializes writes to the transport between the send worker
	// and the bad-data-disconnect path.
	SendMu sync.Mutex

	codecMu   sync.Mutex
	opusCodec *codecs.OpusCodec
}

// New creates a Record in its pre-active state. The caller must set Active
// true once every worker for it has been spawned, and must not spawn any
// worker before calling New.
func New(id ID, remoteAddr string, t transport.Transport, egressAudioCapacity int) *Record {
	r := &Record{
		ID:            id,
		RemoteAddress: remoteAddr,
		IngressVideo:  videobuf.New(),
		IngressAudio:  ringbuffer.New[float32](AudioIngressCapacity),
		EgressVideo:   videobuf.New(),
		EgressAudio:   packetqueue.New(egressAudioCapacity),
	}
	r.transportV = t
	r.Active.Store(true)
	return r
}

// Transport returns the record's current transport. May be swapped at any
// time by SetTransport.
func (r *Record) Transport() transport.Transport {
	r.transportMu.RLock()
	defer r.transportMu.RUnlock()
	return r.transportV
}

// SetTransport atomically swaps the underlying transport.
func (r *Record) SetTransport(t transport.Transport) {
	r.transportMu.Lock()
	r.transportV = t
	r.transportMu.Unlock()
}

// Caps returns a copy of the current capability block.
func (r *Record) Caps() Caps {
	r.capsMu.RLock()
	defer r.capsMu.RUnlock()
	return r.caps
}

// UpdateCaps mutates the capability block under capsMu via mutator.
func (r *Record) UpdateCaps(mutator func(*Caps)) {
	r.capsMu.Lock()
	mutator(&r.caps)
	r.capsMu.Unlock()
}

// OpusCodec returns the client's lazily-created Opus encoder/decoder pair,
// creating it on first use.
func (r *Record) OpusCodec() (*codecs.OpusCodec, error) {
	r.codecMu.Lock()
	defer r.codecMu.Unlock()
	if r.opusCodec == nil {
		c, err := codecs.NewOpusCodec()
		if err != nil {
			return nil, err
		}
		r.opusCodec = c
	}
	return r.opusCodec, nil
}

// Close tears down the record's resources. Must only be called after every
// worker referencing the record has been joined.
func (r *Record) Close() {
	r.EgressAudio.Shutdown()
	if t := r.Transport(); t != nil {
		_ = t.Close()
	}
}
