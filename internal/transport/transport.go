// Package transport defines the hub's pluggable per-client transport
// abstraction. The default is a raw TCP socket; an alternative WebRTC data
// channel transport is exposed as an optional hook and can be swapped in at runtime via host_set_client_transport.
package transport

import (
	"errors"
	"io"
	"time"
)

// ErrClosed is returned by Read/Write after Close.
var ErrClosed = errors.New("transport: closed")

// Transport is anything the hub can frame wire packets over: a TCP
// connection, or a WebRTC data channel.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
	RemoteAddr() string
	// SetReadDeadline bounds the next Read call so the owning worker's
	// blocking waits remain bounded and shutdown is observed promptly.
	SetReadDeadline(t time.Time) error
}

// HalfCloser is implemented by transports that can close their read side
// independently of their write side. The bad-data disconnect path
// uses this to half-close the transport after its final writes, rather
// than tearing down the connection out from under an in-flight write.
type HalfCloser interface {
	CloseRead() error
}
