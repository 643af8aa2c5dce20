package transport

import (
	"net"
	"time"
)

// TCPTransport is the default Transport, wrapping a raw net.Conn with
// TCP_NODELAY enabled so framed packets are not held up by Nagle batching.
type TCPTransport struct {
	conn net.Conn
}

// NewTCPTransport wraps an accepted connection as a Transport.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return &TCPTransport{conn: conn}
}

func (t *TCPTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

func (t *TCPTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *TCPTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// CloseRead half-closes the read side of the TCP connection, letting a
// final queued write still go out before the connection is fully torn
// down by the eventual Close.
func (t *TCPTransport) CloseRead() error {
	if tcp, ok := t.conn.(*net.TCPConn); ok {
		return tcp.CloseRead()
	}
	return t.conn.Close()
}
