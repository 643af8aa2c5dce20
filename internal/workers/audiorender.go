package workers

import (
	"fmt"
	"time"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/codecs"
	"github.com/ethan/termcast-hub/internal/mixer"
	"github.com/ethan/termcast-hub/internal/wire"
)

const (
	// audioTickInterval is the worker's constant cadence.
	audioTickInterval = 10 * time.Millisecond

	// samplesPerTick is 10 ms at 48 kHz.
	samplesPerTick = 480

	// catchUpSamples doubles the read when any peer's backlog exceeds
	// catchUpThreshold, draining bounded backlog faster.
	catchUpSamples   = 960
	catchUpThreshold = 1920 // ~40 ms at 48 kHz

	// egressBacklogLimit is the queued-packet count (~1 s of 20 ms
	// frames) past which the worker drops the current frame instead of
	// growing memory.
	egressBacklogLimit = 50

	// backpressureCheckEvery spaces out the egress backlog check.
	backpressureCheckEvery = 100
)

func errPanic(r any) error {
	return fmt.Errorf("worker panic: %v", r)
}

// audioRenderState is the accumulation state one audio render worker owns
// across ticks: the persistent 960-sample Opus accumulation buffer and the
// encode counter driving the periodic back-pressure check.
type audioRenderState struct {
	accum       []float32
	encodeCount int
}

func newAudioRenderState() *audioRenderState {
	return &audioRenderState{accum: make([]float32, 0, codecs.OpusFrameSamples)}
}

// AudioRenderWorker runs rec's per-client audio mixer/encoder: at
// 100 Hz it mixes every sending peer's ingress audio (excluding rec's own),
// accumulates 20 ms of PCM, Opus-encodes it, and enqueues the packet onto
// rec's egress audio queue with high priority.
func AudioRenderWorker(rec *client.Record, deps *Deps) {
	log := deps.Logger.With("client_id", rec.ID, "worker", "audio_render")
	defer func() {
		if r := recover(); r != nil {
			log.Error("audio render worker panicked", "panic", r)
			if deps.Callbacks.OnError != nil {
				deps.Callbacks.OnError(rec.ID, errPanic(r))
			}
		}
	}()

	warn := lagWarnLimit()
	pacer := NewPacer(audioTickInterval)
	state := newAudioRenderState()

	for rec.Active.Load() && !rec.ShuttingDown.Load() && !deps.Exiting() {
		start := time.Now()
		if deps.RenderOn() {
			if err := AudioRenderTick(rec, deps, state); err != nil {
				log.Warn("audio render tick failed", "error", err)
			} else {
				log.DebugMixer("mixed tick", "accumulated", len(state.accum), "egress_queued", rec.EgressAudio.Size())
			}
		}

		if elapsed := time.Since(start); elapsed > audioTickInterval*3/2 && warn.Allow() {
			log.Warn("audio render lagging", "elapsed", elapsed, "target", audioTickInterval)
		}

		sleepInterruptible(pacer.Tick(0, 0), rec, deps)
	}
}

// AudioRenderTick performs one 10 ms mixer tick for rec.
// Exposed at this granularity so tests can drive single ticks.
func AudioRenderTick(rec *client.Record, deps *Deps, state *audioRenderState) error {
	peers := deps.Registry.Peers(rec.ID)

	samplesToRead := samplesPerTick
	sources := make([]mixer.Source, 0, len(peers))
	for _, p := range peers {
		if !p.Active.Load() || !p.IsSendingAudio.Load() {
			continue
		}
		if p.IngressAudio.AvailableRead() > catchUpThreshold {
			samplesToRead = catchUpSamples
		}
		sources = append(sources, mixer.Source{ID: uint32(p.ID), Buffer: p.IngressAudio})
	}
	if len(sources) == 0 {
		return nil
	}

	mixed, n := mixer.Mix(sources, uint32(rec.ID), samplesToRead, deps.MixerCompress)
	if n == 0 {
		return nil
	}
	state.accum = append(state.accum, mixed[:n]...)

	for len(state.accum) >= codecs.OpusFrameSamples {
		state.encodeCount++
		if state.encodeCount%backpressureCheckEvery == 0 &&
			rec.EgressAudio.Size() > egressBacklogLimit {
			// Drop latency, not liveness: skip this frame entirely.
			state.accum = state.accum[:0]
			return nil
		}

		codec, err := rec.OpusCodec()
		if err != nil {
			state.accum = state.accum[:0]
			return fmt.Errorf("opus codec unavailable: %w", err)
		}
		encoded, err := codec.Encode(state.accum[:codecs.OpusFrameSamples])
		if err != nil {
			state.accum = state.accum[:0]
			return fmt.Errorf("opus encode: %w", err)
		}

		payload := wire.EncodeSingleOpus(codecs.OpusSampleRate, 20, encoded)
		if err := rec.EgressAudio.Enqueue(uint16(wire.TypeAudioOpus), payload, true); err != nil {
			state.accum = state.accum[:0]
			return nil // queue full or shut down; drop the frame
		}

		remaining := copy(state.accum, state.accum[codecs.OpusFrameSamples:])
		state.accum = state.accum[:remaining]
	}
	return nil
}
