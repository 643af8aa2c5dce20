package workers

import (
	"errors"
	"net"
	"time"
)

// acceptDeadline bounds each Accept call so the loop observes shutdown
// within about a second.
const acceptDeadline = time.Second

// AcceptLoop accepts connections on ln until the host-wide shutdown signal
// is set or the listener is closed, invoking handle once per accepted
// connection. handle is called synchronously and must not block: the host
// spawns the per-connection goroutine itself so its worker accounting sees
// the spawn before the next accept. No handshake happens here; the
// per-connection goroutine runs it before starting the receive worker.
// Blocks until done; the
// caller runs one AcceptLoop goroutine per configured listening endpoint.
func AcceptLoop(ln net.Listener, deps *Deps, handle func(net.Conn)) {
	log := deps.Logger.With("worker", "accept", "addr", ln.Addr().String())

	for !deps.Exiting() {
		if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
			_ = dl.SetDeadline(time.Now().Add(acceptDeadline))
		}

		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("accept failed", "error", err)
			continue
		}

		log.DebugTransport("accepted connection", "remote", conn.RemoteAddr().String())
		handle(conn)
	}
}
