package workers

import (
	"sync/atomic"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/obs/logger"
	"github.com/ethan/termcast-hub/internal/registry"
)

// Callbacks are delivered to the embedding mode by way of the host façade.
type Callbacks struct {
	OnClientJoin    func(id client.ID)
	OnClientLeave   func(id client.ID)
	OnFrameReceived func(id client.ID, width, height int)
	OnAudioReceived func(id client.ID, samples int)
	OnError         func(id client.ID, err error)
}

// Deps bundles everything the worker set needs that isn't itself part of
// a ClientRecord: the shared registry, the structured logger, the
// embedding callbacks, the crypto session template, and tunables —
// an explicit context struct carried into every worker entry point in
// place of package-level globals.
type Deps struct {
	Registry  *registry.Registry
	Logger    *logger.Logger
	Callbacks Callbacks

	CryptoConfig cryptosession.Config
	MaxClients   int

	// EgressAudioQueueCapacity bounds each client's egress audio packet
	// queue.
	EgressAudioQueueCapacity int

	// DefaultFPS/MaxFPS bound each client's requested frame rate.
	DefaultFPS int
	MaxFPS     int

	// MixerCompress toggles the Audio Mixer's ducking/soft-compression
	// pass; when false, sources are summed without clipping.
	MixerCompress bool

	// ShouldExit is the host-wide shutdown signal. Every worker checks it on each loop and exits
	// without doing its main work when set.
	ShouldExit *atomic.Bool

	// RenderEnabled gates the per-client render workers as a group
	// (host_start_render / host_stop_render). When false the
	// render workers idle without producing frames.
	RenderEnabled *atomic.Bool
}

// Exiting reports whether the host-wide shutdown signal is set.
func (d *Deps) Exiting() bool {
	return d.ShouldExit != nil && d.ShouldExit.Load()
}

// RenderOn reports whether the render workers should produce output.
func (d *Deps) RenderOn() bool {
	return d.RenderEnabled == nil || d.RenderEnabled.Load()
}

// ClampFPS clamps a client's requested frame rate to [1, MaxFPS], falling
// back to DefaultFPS when desired is non-positive.
func (d *Deps) ClampFPS(desired int) int {
	if desired <= 0 {
		desired = d.DefaultFPS
	}
	if desired < 1 {
		return 1
	}
	if desired > d.MaxFPS {
		return d.MaxFPS
	}
	return desired
}
