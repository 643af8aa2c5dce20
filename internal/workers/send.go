package workers

import (
	"errors"
	"time"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/packetqueue"
	"github.com/ethan/termcast-hub/internal/wire"
)

// sendDequeueDeadline bounds each blocking dequeue so the worker checks
// both shutdown and the video egress buffer at least every ~50 ms.
const sendDequeueDeadline = 50 * time.Millisecond

// sendState tracks what the send worker has already delivered: the last
// video frame's sequence number and the grid-source count it was rendered
// with, which drives the clear-screen barrier.
type sendState struct {
	lastVideoSeq  uint64
	lastGridCount int64
}

// SendWorker drains rec's two egress sources — the audio packet queue and
// the latest-only video double buffer — onto rec's transport.
// Audio outranks video; a CLEAR_CONSOLE barrier precedes any video frame
// whose grid-source count changed since the previously sent one.
func SendWorker(rec *client.Record, deps *Deps) {
	log := deps.Logger.With("client_id", rec.ID, "worker", "send")
	defer func() {
		if r := recover(); r != nil {
			log.Error("send worker panicked", "panic", r)
			if deps.Callbacks.OnError != nil {
				deps.Callbacks.OnError(rec.ID, errPanic(r))
			}
		}
	}()

	state := &sendState{}
	for rec.Active.Load() && !rec.ShuttingDown.Load() && !deps.Exiting() {
		if err := SendCycle(rec, deps, state); err != nil {
			disconnectForTransportError(rec, deps, err)
			return
		}
	}
}

// SendCycle performs one drain cycle: every queued audio packet, then at
// most one fresh video frame (with its barrier). A non-nil return is a
// transport failure; queue shutdown and deadline expiry are not errors.
// Exposed at this granularity so tests can drive single cycles.
func SendCycle(rec *client.Record, deps *Deps, state *sendState) error {
	deadline := time.Now().Add(sendDequeueDeadline)
	for {
		pkt, err := rec.EgressAudio.DequeueBlocking(deadline)
		if err != nil {
			if errors.Is(err, packetqueue.ErrShutdown) {
				break
			}
			return err
		}
		if pkt == nil {
			break // deadline expired, nothing queued
		}
		if err := SendDirect(rec, wire.Type(pkt.Type), pkt.Payload); err != nil {
			return err
		}
		// Drain any remaining packets without re-waiting.
		deadline = time.Now()
	}

	frame := rec.EgressVideo.ReadLatest()
	if frame.SequenceNumber == 0 || frame.SequenceNumber == state.lastVideoSeq {
		return nil
	}

	if grid := rec.LastRenderedGridSources.Load(); grid != state.lastGridCount {
		if err := SendDirect(rec, wire.TypeClearConsole, nil); err != nil {
			return err
		}
		state.lastGridCount = grid
	}

	if err := SendDirect(rec, wire.TypeASCIIFrame, frame.Data); err != nil {
		return err
	}
	state.lastVideoSeq = frame.SequenceNumber
	return nil
}
