package workers

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/codecs"
	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/obs/logger"
	"github.com/ethan/termcast-hub/internal/wire"
)

// receivePollInterval bounds each individual read so shutdown is observed
// promptly.
const receivePollInterval = 100 * time.Millisecond

// ReceiveWorker runs rec's per-client receive loop: read one
// framed packet, validate, decrypt if READY, dispatch on type. Returns
// when rec.Active goes false, whether from CLIENT_LEAVE, a bad-data
// disconnect, a transport error, or the caller's own shutdown signal.
func ReceiveWorker(rec *client.Record, deps *Deps) {
	log := deps.Logger.With("client_id", rec.ID, "worker", "receive")

	for rec.Active.Load() && !rec.ShuttingDown.Load() && !deps.Exiting() {
		t := rec.Transport()
		if err := t.SetReadDeadline(time.Now().Add(receivePollInterval)); err != nil {
			disconnectForTransportError(rec, deps, err)
			return
		}

		h, payload, err := wire.ReadPacket(t)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, wire.ErrBadMagic) || errors.Is(err, wire.ErrCRCMismatch) || errors.Is(err, wire.ErrLengthMismatch) {
				disconnectForBadData(rec, deps, fmt.Sprintf("protocol violation: %v", err))
				return
			}
			disconnectForTransportError(rec, deps, err)
			return
		}

		if rec.Crypto != nil && rec.Crypto.State() == cryptosession.StateReady && !isHandshakeType(h.Type) {
			plain, err := rec.Crypto.Open(payload)
			if err != nil {
				disconnectForBadData(rec, deps, "crypto failure: decrypt failed")
				return
			}
			payload = plain
		}

		if err := dispatchPacket(rec, deps, h, payload, log); err != nil {
			disconnectForBadData(rec, deps, fmt.Sprintf("protocol violation: %v", err))
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// dispatchPacket routes one validated, decrypted packet by type. A non-nil
// return is always a protocol violation that the caller turns into a
// bad-data disconnect.
func dispatchPacket(rec *client.Record, deps *Deps, h wire.Header, payload []byte, log *logger.Logger) error {
	switch h.Type {
	case wire.TypeClientJoin:
		join, err := wire.ParseClientJoin(payload)
		if err != nil {
			return err
		}
		rec.UpdateCaps(func(c *client.Caps) {
			c.DisplayName = join.DisplayName
			c.CanSendVideo = join.CanSendVideo
			c.CanSendAudio = join.CanSendAudio
			c.WantsStretch = join.WantsStretch
		})
		return nil

	case wire.TypeClientCapabilities:
		caps, err := wire.ParseCapabilities(payload)
		if err != nil {
			return err
		}
		rec.UpdateCaps(func(c *client.Caps) {
			c.TerminalWidth = caps.TerminalWidth
			c.TerminalHeight = caps.TerminalHeight
			c.ColorLevel = client.ColorLevel(caps.ColorLevel)
			c.RenderMode = client.RenderMode(caps.RenderMode)
			c.PaletteSelector = caps.PaletteSelector
			c.PaletteCustomChars = caps.PaletteCustomChars
			c.DesiredFPS = caps.DesiredFPS
		})
		return nil

	case wire.TypeSize:
		sz, err := wire.ParseSize(payload)
		if err != nil {
			return err
		}
		rec.UpdateCaps(func(c *client.Caps) {
			c.TerminalWidth = sz.TerminalWidth
			c.TerminalHeight = sz.TerminalHeight
		})
		return nil

	case wire.TypeStreamStart:
		kind, err := wire.ParseStreamControl(payload)
		if err != nil {
			return err
		}
		if kind == wire.StreamAudio {
			rec.IsSendingAudio.Store(true)
			if _, err := rec.OpusCodec(); err != nil {
				log.Warn("failed to create opus codec on stream start", "error", err)
			}
		}
		// Video intent is recorded by caps (CanSendVideo via CLIENT_JOIN);
		// IsSendingVideo itself is set on the first valid frame.
		return nil

	case wire.TypeStreamStop:
		kind, err := wire.ParseStreamControl(payload)
		if err != nil {
			return err
		}
		if kind == wire.StreamVideo {
			rec.IsSendingVideo.Store(false)
		} else {
			rec.IsSendingAudio.Store(false)
		}
		return nil

	case wire.TypeImageFrame:
		return handleImageFrame(rec, deps, payload)

	case wire.TypeAudio:
		// Deprecated single-sample layout; tolerated but discarded so an
		// old client is not disconnected for using it.
		log.DebugWire("ignoring deprecated AUDIO packet", "bytes", len(payload))
		return nil

	case wire.TypeAudioBatch:
		batch, err := wire.ParseAudioBatch(payload)
		if err != nil {
			return err
		}
		rec.IngressAudio.Write(batch.Samples)
		if deps.Callbacks.OnAudioReceived != nil {
			deps.Callbacks.OnAudioReceived(rec.ID, len(batch.Samples))
		}
		return nil

	case wire.TypeAudioOpusBatch:
		return handleOpusBatch(rec, deps, payload)

	case wire.TypeAudioOpus:
		return handleSingleOpus(rec, deps, payload)

	case wire.TypePing:
		if err := SendDirect(rec, wire.TypePong, nil); err != nil {
			log.Warn("failed to send pong", "error", err)
		}
		return nil

	case wire.TypeClientLeave:
		rec.Active.Store(false)
		return nil

	case wire.TypeRemoteLog:
		truncated, message, err := wire.ParseRemoteLog(payload)
		if err != nil {
			return err
		}
		log.Info("remote log", "peer_id", rec.ID, "truncated", truncated, "message", message)
		return nil

	default:
		return fmt.Errorf("unexpected packet type %s in data-plane state", h.Type)
	}
}

func handleImageFrame(rec *client.Record, deps *Deps, payload []byte) error {
	frame, err := wire.ParseImageFrame(payload, codecs.DecompressImage)
	if err != nil {
		return err
	}

	slot := rec.IngressVideo.BeginWrite()
	slot.Data = frame.RGB
	slot.Width = int(frame.Width)
	slot.Height = int(frame.Height)
	slot.CaptureTimestamp = time.Now().UnixMicro()
	rec.IngressVideo.Commit()

	rec.FramesReceived.Add(1)
	rec.IsSendingVideo.CompareAndSwap(false, true)
	if deps.Callbacks.OnFrameReceived != nil {
		deps.Callbacks.OnFrameReceived(rec.ID, int(frame.Width), int(frame.Height))
	}
	return nil
}

func handleOpusBatch(rec *client.Record, deps *Deps, payload []byte) error {
	batch, err := wire.ParseOpusBatch(payload)
	if err != nil {
		return err
	}
	codec, err := rec.OpusCodec()
	if err != nil {
		return fmt.Errorf("opus codec unavailable: %w", err)
	}
	total := 0
	for _, frame := range batch.Frames {
		pcm, err := codec.Decode(frame)
		if err != nil {
			return fmt.Errorf("opus decode: %w", err)
		}
		rec.IngressAudio.Write(pcm)
		total += len(pcm)
	}
	if deps.Callbacks.OnAudioReceived != nil {
		deps.Callbacks.OnAudioReceived(rec.ID, total)
	}
	return nil
}

func handleSingleOpus(rec *client.Record, deps *Deps, payload []byte) error {
	single, err := wire.ParseSingleOpus(payload)
	if err != nil {
		return err
	}
	codec, err := rec.OpusCodec()
	if err != nil {
		return fmt.Errorf("opus codec unavailable: %w", err)
	}
	pcm, err := codec.Decode(single.Frame)
	if err != nil {
		return fmt.Errorf("opus decode: %w", err)
	}
	rec.IngressAudio.Write(pcm)
	if deps.Callbacks.OnAudioReceived != nil {
		deps.Callbacks.OnAudioReceived(rec.ID, len(pcm))
	}
	return nil
}
