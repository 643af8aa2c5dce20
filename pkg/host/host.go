// Package host is the hub's public façade: lifecycle
// (start/stop/render), the accept loop wiring, the broadcast/send entry
// points, the memory-participant injection API, and the callbacks
// delivered to the embedding mode.
package host

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/config"
	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/obs/logger"
	"github.com/ethan/termcast-hub/internal/registry"
	"github.com/ethan/termcast-hub/internal/transport"
	"github.com/ethan/termcast-hub/internal/wire"
	"github.com/ethan/termcast-hub/internal/workers"
)

// ErrMaxClients is sent (as the text of a resource-exhaustion ERROR
// packet) when a new connection would exceed the configured client limit.
var ErrMaxClients = errors.New("host: maximum client count reached")

// ErrNoSuchClient is returned by per-client operations on an unknown ID.
var ErrNoSuchClient = errors.New("host: no such client")

// ErrMemoryParticipantExists is returned by AddMemoryParticipant when one
// already exists; at most one in-process peer is supported.
var ErrMemoryParticipantExists = errors.New("host: memory participant already exists")

// Callbacks re-exports the worker callback set as the façade's public
// embedding surface.
type Callbacks = workers.Callbacks

// Info is the public snapshot of one client returned by FindClient.
type Info struct {
	ID             client.ID `json:"id"`
	RemoteAddress  string    `json:"remote_address"`
	DisplayName    string    `json:"display_name"`
	TerminalWidth  int       `json:"terminal_width"`
	TerminalHeight int       `json:"terminal_height"`
	IsSendingVideo bool      `json:"is_sending_video"`
	IsSendingAudio bool      `json:"is_sending_audio"`
	FramesReceived uint64    `json:"frames_received"`
}

// Stats is the aggregate host snapshot served by the introspection API.
type Stats struct {
	ClientCount   int           `json:"client_count"`
	Clients       []Info        `json:"clients"`
	Uptime        time.Duration `json:"uptime_ns"`
	RenderRunning bool          `json:"render_running"`
}

// Host owns the registry, the listeners, and every worker goroutine.
type Host struct {
	cfg config.HostConfig
	log *logger.Logger

	reg  *registry.Registry
	deps *workers.Deps

	shouldExit    atomic.Bool
	renderEnabled atomic.Bool

	mu        sync.Mutex
	listeners []net.Listener
	started   bool
	startedAt time.Time
	memoryID  client.ID
	handles   map[client.ID]*clientHandle

	wg sync.WaitGroup
}

// clientHandle tracks the worker goroutines serving one record so the
// record is torn down only after all of them have been joined.
type clientHandle struct {
	rec      *client.Record
	workerWG sync.WaitGroup
	tornDown atomic.Bool
}

// New creates a Host from cfg. The identity key, password, and allow-list
// are resolved here so that Start can fail only on bind errors.
func New(cfg config.HostConfig, log *logger.Logger, cbs Callbacks) (*Host, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.Port == 0 && cfg.IPv4Bind == "" && cfg.IPv6Bind == "" {
		cfg = config.Default()
	}
	if cfg.IPv4Bind == "" && cfg.IPv6Bind == "" {
		cfg.IPv4Bind = "0.0.0.0"
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = config.Default().MaxClients
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("host: config: %w", err)
	}

	cryptoCfg := cryptosession.Config{
		NoEncryptMode: !cfg.EncryptionEnabled,
	}
	if len(cfg.Password) > 0 {
		cryptoCfg.Password = []byte(cfg.Password)
	}
	if cfg.IdentityKeyPath != "" {
		key, err := loadIdentityKey(cfg.IdentityKeyPath)
		if err != nil {
			return nil, fmt.Errorf("host: identity key: %w", err)
		}
		cryptoCfg.IdentityPrivateKey = key
	}
	if len(cfg.ClientAllowlistHex) > 0 {
		allow, err := parseAllowlist(cfg.ClientAllowlistHex)
		if err != nil {
			return nil, fmt.Errorf("host: allowlist: %w", err)
		}
		cryptoCfg.Allowlist = allow
	}

	h := &Host{
		cfg:     cfg,
		log:     log,
		reg:     registry.New(),
		handles: make(map[client.ID]*clientHandle),
	}
	h.renderEnabled.Store(true)
	h.deps = &workers.Deps{
		Registry:                 h.reg,
		Logger:                   log,
		Callbacks:                cbs,
		CryptoConfig:             cryptoCfg,
		MaxClients:               cfg.MaxClients,
		EgressAudioQueueCapacity: 128,
		DefaultFPS:               60,
		MaxFPS:                   60,
		MixerCompress:            true,
		ShouldExit:               &h.shouldExit,
		RenderEnabled:            &h.renderEnabled,
	}
	return h, nil
}

// loadIdentityKey reads an Ed25519 private key from disk: either the raw
// 64-byte private key or its 32-byte seed.
func loadIdentityKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d or %d", path, len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

func parseAllowlist(entries []string) (map[[ed25519.PublicKeySize]byte]struct{}, error) {
	allow := make(map[[ed25519.PublicKeySize]byte]struct{}, len(entries))
	for _, entry := range entries {
		raw, err := hex.DecodeString(entry)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("entry %q is not a hex-encoded 32-byte public key", entry)
		}
		var key [ed25519.PublicKeySize]byte
		copy(key[:], raw)
		allow[key] = struct{}{}
	}
	return allow, nil
}

// Start binds the configured endpoints and launches an accept loop per
// listener. A bind failure on every configured address is fatal; binding
// at least one endpoint succeeds the start.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}

	var errs []error
	if h.cfg.IPv4Bind != "" {
		ln, err := net.Listen("tcp4", net.JoinHostPort(h.cfg.IPv4Bind, strconv.Itoa(int(h.cfg.Port))))
		if err != nil {
			errs = append(errs, fmt.Errorf("bind ipv4: %w", err))
		} else {
			h.listeners = append(h.listeners, ln)
		}
	}
	if h.cfg.IPv6Bind != "" {
		ln, err := net.Listen("tcp6", net.JoinHostPort(h.cfg.IPv6Bind, strconv.Itoa(int(h.cfg.Port))))
		if err != nil {
			errs = append(errs, fmt.Errorf("bind ipv6: %w", err))
		} else {
			h.listeners = append(h.listeners, ln)
		}
	}
	if len(h.listeners) == 0 {
		return fmt.Errorf("host: no endpoint bound: %w", errors.Join(errs...))
	}

	for _, ln := range h.listeners {
		h.wg.Add(1)
		go func(ln net.Listener) {
			defer h.wg.Done()
			workers.AcceptLoop(ln, h.deps, func(conn net.Conn) {
				h.wg.Add(1)
				go func() {
					defer h.wg.Done()
					h.serveConn(conn)
				}()
			})
		}(ln)
		h.log.Info("listening", "addr", ln.Addr().String())
	}

	h.started = true
	h.startedAt = time.Now()
	return nil
}

// BoundAddrs returns the listening addresses, useful when Port was 0.
func (h *Host) BoundAddrs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	addrs := make([]string, len(h.listeners))
	for i, ln := range h.listeners {
		addrs[i] = ln.Addr().String()
	}
	return addrs
}

// serveConn runs one accepted connection's entire lifetime: handshake,
// registration, worker spawn, receive loop, teardown.
func (h *Host) serveConn(conn net.Conn) {
	t := transport.NewTCPTransport(conn)

	if h.shouldExit.Load() {
		_ = t.Close()
		return
	}

	if h.reg.Count() >= h.cfg.MaxClients {
		// Existing clients are unaffected; the newcomer gets a final
		// resource-exhaustion error.
		_ = wire.WritePacket(t, wire.TypeError,
			wire.EncodeError(uint32(wire.ErrorResourceExhausted), ErrMaxClients.Error()), 0)
		_ = t.Close()
		return
	}

	sess, err := workers.ServerHandshake(t, h.deps.CryptoConfig)
	if err != nil {
		h.log.Warn("handshake failed", "remote", t.RemoteAddr(), "error", err)
		_ = wire.WritePacket(t, wire.TypeError,
			wire.EncodeError(uint32(wire.ErrorCryptoFailure), err.Error()), 0)
		_ = t.Close()
		return
	}

	rec := client.New(h.reg.NextID(), t.RemoteAddr(), t, h.deps.EgressAudioQueueCapacity)
	rec.Crypto = sess
	h.runClient(rec)
}

// runClient registers rec, spawns its render and send workers, runs its
// receive worker inline, and tears everything down when the receive loop
// returns for any reason.
func (h *Host) runClient(rec *client.Record) {
	handle := &clientHandle{rec: rec}

	h.mu.Lock()
	h.handles[rec.ID] = handle
	h.mu.Unlock()
	h.reg.Add(rec)

	if cb := h.deps.Callbacks.OnClientJoin; cb != nil {
		cb(rec.ID)
	}

	handle.workerWG.Add(3)
	go func() {
		defer handle.workerWG.Done()
		workers.VideoRenderWorker(rec, h.deps)
	}()
	go func() {
		defer handle.workerWG.Done()
		workers.AudioRenderWorker(rec, h.deps)
	}()
	go func() {
		defer handle.workerWG.Done()
		workers.SendWorker(rec, h.deps)
	}()

	workers.ReceiveWorker(rec, h.deps)
	h.teardownClient(handle)
}

// teardownClient removes the record from the registry, stops and joins its
// workers, fires on_client_leave, and only then releases the record's
// resources. Idempotent.
func (h *Host) teardownClient(handle *clientHandle) {
	if !handle.tornDown.CompareAndSwap(false, true) {
		return
	}
	rec := handle.rec

	rec.Active.Store(false)
	rec.ShuttingDown.Store(true)
	rec.EgressAudio.Shutdown()

	h.reg.Remove(rec.ID)
	h.mu.Lock()
	delete(h.handles, rec.ID)
	h.mu.Unlock()

	if cb := h.deps.Callbacks.OnClientLeave; cb != nil {
		cb(rec.ID)
	}

	handle.workerWG.Wait()
	rec.Close()
	h.log.Info("client removed", "client_id", rec.ID)
}

// Stop shuts the host down in the documented reverse order: flip
// the shutdown flag so render workers return within one tick and receive
// workers on their next read deadline, disconnect every client (firing
// on_client_leave), stop the accept loops, and close the listening sockets
// last. Returns only after every worker has been joined.
func (h *Host) Stop() {
	h.shouldExit.Store(true)

	h.mu.Lock()
	handles := make([]*clientHandle, 0, len(h.handles))
	for _, handle := range h.handles {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	for _, handle := range handles {
		rec := handle.rec
		rec.Active.Store(false)
		rec.ShuttingDown.Store(true)
		rec.EgressAudio.Shutdown()
		if t := rec.Transport(); t != nil {
			_ = t.Close() // wakes the receive worker's blocking read
		}
	}

	h.wg.Wait()

	h.mu.Lock()
	for _, ln := range h.listeners {
		_ = ln.Close()
	}
	h.listeners = nil
	h.started = false
	h.mu.Unlock()
}

// Destroy releases the host. It stops the host first if Stop was not
// already called; after Destroy the handle must not be reused.
func (h *Host) Destroy() {
	h.Stop()
}

// StartRender enables the per-client render workers as a group.
func (h *Host) StartRender() { h.renderEnabled.Store(true) }

// StopRender pauses the per-client render workers as a group. Their
// goroutines keep idling at their paced rate without producing frames.
func (h *Host) StopRender() { h.renderEnabled.Store(false) }

// AddClient registers an already-established transport as a client and
// starts its full worker set. Typically the accept loop does this via the
// handshake path; exposed for testing. The session is plaintext.
func (h *Host) AddClient(t transport.Transport, addr string) client.ID {
	rec := client.New(h.reg.NextID(), addr, t, h.deps.EgressAudioQueueCapacity)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runClient(rec)
	}()
	return rec.ID
}

// AddMemoryParticipant registers an in-process peer (e.g. the host's own
// webcam) whose media arrives via InjectFrame/InjectAudio rather than a
// transport. At most one may exist.
func (h *Host) AddMemoryParticipant() (client.ID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.memoryID != 0 {
		return 0, ErrMemoryParticipantExists
	}
	rec := client.New(h.reg.NextID(), "memory", nil, h.deps.EgressAudioQueueCapacity)
	rec.UpdateCaps(func(c *client.Caps) {
		c.DisplayName = "host"
		c.CanSendVideo = true
		c.CanSendAudio = true
	})
	h.reg.Add(rec)
	h.memoryID = rec.ID
	return rec.ID, nil
}

// InjectFrame writes a raw RGB frame directly into participant's video
// ingress, bypassing the network.
func (h *Host) InjectFrame(participant client.ID, rgb []byte, width, height int) error {
	rec, ok := h.reg.Lookup(participant)
	if !ok {
		return ErrNoSuchClient
	}
	if width <= 0 || height <= 0 || len(rgb) != width*height*3 {
		return fmt.Errorf("host: frame size %d does not match %dx%dx3", len(rgb), width, height)
	}
	slot := rec.IngressVideo.BeginWrite()
	slot.Data = append([]byte(nil), rgb...)
	slot.Width = width
	slot.Height = height
	slot.CaptureTimestamp = time.Now().UnixMicro()
	rec.IngressVideo.Commit()
	rec.FramesReceived.Add(1)
	rec.IsSendingVideo.CompareAndSwap(false, true)
	return nil
}

// InjectAudio writes PCM samples directly into participant's audio
// ingress, bypassing the network.
func (h *Host) InjectAudio(participant client.ID, samples []float32) error {
	rec, ok := h.reg.Lookup(participant)
	if !ok {
		return ErrNoSuchClient
	}
	rec.IngressAudio.Write(samples)
	rec.IsSendingAudio.Store(true)
	return nil
}

// RemoveClient disconnects and removes a client by ID.
func (h *Host) RemoveClient(id client.ID) error {
	h.mu.Lock()
	handle, ok := h.handles[id]
	h.mu.Unlock()
	if !ok {
		// Memory participant or test-only record with no worker handle.
		rec, found := h.reg.Lookup(id)
		if !found {
			return ErrNoSuchClient
		}
		h.reg.Remove(id)
		h.mu.Lock()
		if h.memoryID == id {
			h.memoryID = 0
		}
		h.mu.Unlock()
		rec.Active.Store(false)
		rec.Close()
		return nil
	}

	rec := handle.rec
	rec.Active.Store(false)
	rec.ShuttingDown.Store(true)
	rec.EgressAudio.Shutdown()
	if t := rec.Transport(); t != nil {
		_ = t.Close()
	}
	return nil
}

// FindClient returns a public snapshot of one client's state.
func (h *Host) FindClient(id client.ID) (Info, error) {
	rec, ok := h.reg.Lookup(id)
	if !ok {
		return Info{}, ErrNoSuchClient
	}
	return snapshotInfo(rec), nil
}

func snapshotInfo(rec *client.Record) Info {
	caps := rec.Caps()
	return Info{
		ID:             rec.ID,
		RemoteAddress:  rec.RemoteAddress,
		DisplayName:    caps.DisplayName,
		TerminalWidth:  caps.TerminalWidth,
		TerminalHeight: caps.TerminalHeight,
		IsSendingVideo: rec.IsSendingVideo.Load(),
		IsSendingAudio: rec.IsSendingAudio.Load(),
		FramesReceived: rec.FramesReceived.Load(),
	}
}

// ClientCount returns the number of registered clients.
func (h *Host) ClientCount() int { return h.reg.Count() }

// ClientIDs returns a snapshot of every registered client ID.
func (h *Host) ClientIDs() []client.ID { return h.reg.IDs() }

// SetClientTransport atomically swaps the transport under a client; once
// set, it overrides the socket for every subsequent write.
func (h *Host) SetClientTransport(id client.ID, t transport.Transport) error {
	rec, ok := h.reg.Lookup(id)
	if !ok {
		return ErrNoSuchClient
	}
	rec.SetTransport(t)
	return nil
}

// BroadcastFrame sends an ASCII frame to every connected client, bypassing
// the renderer (used for server-injected banners).
func (h *Host) BroadcastFrame(asciiFrame []byte) {
	for _, rec := range h.reg.Snapshot() {
		if rec.Transport() == nil || !rec.Active.Load() {
			continue
		}
		if err := workers.SendDirect(rec, wire.TypeASCIIFrame, asciiFrame); err != nil {
			h.log.Warn("broadcast frame failed", "client_id", rec.ID, "error", err)
		}
	}
}

// SendFrame sends an ASCII frame to one client, bypassing the renderer.
func (h *Host) SendFrame(id client.ID, asciiFrame []byte) error {
	rec, ok := h.reg.Lookup(id)
	if !ok {
		return ErrNoSuchClient
	}
	return workers.SendDirect(rec, wire.TypeASCIIFrame, asciiFrame)
}

// Stats returns the aggregate host snapshot served by the introspection
// HTTP API.
func (h *Host) Stats() Stats {
	records := h.reg.Snapshot()
	infos := make([]Info, 0, len(records))
	for _, rec := range records {
		infos = append(infos, snapshotInfo(rec))
	}
	h.mu.Lock()
	startedAt := h.startedAt
	h.mu.Unlock()
	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}
	return Stats{
		ClientCount:   len(infos),
		Clients:       infos,
		Uptime:        uptime,
		RenderRunning: h.renderEnabled.Load(),
	}
}
