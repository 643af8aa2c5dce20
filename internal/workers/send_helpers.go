package workers

import (
	"fmt"

	"github.com/ethan/termcast-hub/internal/client"
	"github.com/ethan/termcast-hub/internal/cryptosession"
	"github.com/ethan/termcast-hub/internal/transport"
	"github.com/ethan/termcast-hub/internal/wire"
)

// isHandshakeType reports whether typ is one of the packet types that
// travels in plaintext during the handshake, regardless of session state.
func isHandshakeType(typ wire.Type) bool {
	switch typ {
	case wire.TypeProtocolVersion, wire.TypeCryptoCapabilities, wire.TypeCryptoParameters,
		wire.TypeKeyExchangeInit, wire.TypeAuthChallenge, wire.TypeAuthResponse:
		return true
	default:
		return false
	}
}

// sendPacketLocked writes one packet to rec's current transport, AEAD-
// sealing the payload first when the session is READY and the type isn't
// a handshake type. The caller must already hold rec.SendMu.
func sendPacketLocked(rec *client.Record, typ wire.Type, payload []byte) error {
	t := rec.Transport()
	if t == nil {
		// Memory participants have no transport; nothing is ever sent to them.
		return transport.ErrClosed
	}
	if rec.Crypto != nil && rec.Crypto.State() == cryptosession.StateReady && !isHandshakeType(typ) {
		sealed, err := rec.Crypto.Seal(payload)
		if err != nil {
			return fmt.Errorf("seal: %w", err)
		}
		payload = sealed
	}
	return wire.WritePacket(t, typ, payload, uint32(rec.ID))
}

// SendDirect acquires rec.SendMu and writes one packet, serializing this
// write against both the send worker's drain loop and a concurrent
// bad-data disconnect. Also the
// direct-send path used for PONG and for host-injected banner frames.
func SendDirect(rec *client.Record, typ wire.Type, payload []byte) error {
	rec.SendMu.Lock()
	defer rec.SendMu.Unlock()
	return sendPacketLocked(rec, typ, payload)
}

// disconnectForBadData is the standardized, idempotent bad-data-disconnect
// procedure. CAS guards re-entry; only the first caller performs the final
// writes and teardown.
func disconnectForBadData(rec *client.Record, deps *Deps, reason string) {
	if !rec.ProtocolDisconnectRequested.CompareAndSwap(false, true) {
		return
	}

	// The final REMOTE_LOG and ERROR travel in plaintext (best effort):
	// the peer may have lost crypto sync, which is often why we are here.
	rec.SendMu.Lock()
	if t := rec.Transport(); t != nil {
		_ = wire.WritePacket(t, wire.TypeRemoteLog, wire.EncodeRemoteLog(false,
			fmt.Sprintf("peer %d disconnected: %s", rec.ID, reason)), uint32(rec.ID))
		_ = wire.WritePacket(t, wire.TypeError,
			wire.EncodeError(uint32(wire.ErrorProtocolViolation), reason), uint32(rec.ID))
	}
	rec.SendMu.Unlock()

	rec.Active.Store(false)
	rec.ShuttingDown.Store(true)
	rec.EgressAudio.Shutdown()

	if hc, ok := rec.Transport().(transport.HalfCloser); ok {
		_ = hc.CloseRead()
	} else if t := rec.Transport(); t != nil {
		_ = t.Close()
	}

	if deps.Callbacks.OnError != nil {
		deps.Callbacks.OnError(rec.ID, fmt.Errorf("bad data disconnect: %s", reason))
	}
}

// disconnectForTransportError handles a read/write transport failure:
// mark the client inactive and close
// its transport, without attempting any final writes that would likely
// fail too.
func disconnectForTransportError(rec *client.Record, deps *Deps, err error) {
	if !rec.ProtocolDisconnectRequested.CompareAndSwap(false, true) {
		return
	}
	rec.Active.Store(false)
	rec.ShuttingDown.Store(true)
	rec.EgressAudio.Shutdown()
	if t := rec.Transport(); t != nil {
		_ = t.Close()
	}
	if deps.Callbacks.OnError != nil {
		deps.Callbacks.OnError(rec.ID, fmt.Errorf("transport error: %w", err))
	}
}
