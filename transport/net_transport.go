package transport

import (
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"syscall"

	"github.com/nczempin/httpc-go-pipe/errors"
)

// NetTransport implements Transport on the Go runtime's netpoller. It
// works wherever io_uring is unavailable.
type NetTransport struct {
	network string
	conn    net.Conn
}

// NewNetTransport creates a TCP transport backed by package net
func NewNetTransport() *NetTransport {
	return &NetTransport{network: "tcp"}
}

// NewNetUnixTransport creates a Unix domain socket transport backed by
// package net; Connect takes the socket path as host
func NewNetUnixTransport() *NetTransport {
	return &NetTransport{network: "unix"}
}

// Connect dials the peer
func (t *NetTransport) Connect(host string, port int) error {
	if t.conn != nil {
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			"already connected",
			nil,
		)
	}

	addr := host
	if t.network != "unix" {
		addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	conn, err := net.Dial(t.network, addr)
	if err != nil {
		var dnsErr *net.DNSError
		if stderrors.As(err, &dnsErr) {
			return errors.NewTransportError(errors.TransportErrorDnsFailure, "failed to resolve "+addr, err)
		}
		return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, "failed to connect to "+addr, err)
	}

	// Disable Nagle's algorithm for lower latency
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to set TCP_NODELAY", err)
		}
	}

	t.conn = conn
	return nil
}

// Write sends data over the connection
func (t *NetTransport) Write(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, notConnected(errors.TransportErrorSocketWriteFailure)
	}

	n, err := t.conn.Write(buf)
	if err != nil {
		// Broken pipe or connection reset
		if stderrors.Is(err, syscall.EPIPE) || stderrors.Is(err, syscall.ECONNRESET) {
			return n, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed during write", err)
		}
		return n, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write failed", err)
	}
	return n, nil
}

// Read receives data from the connection
func (t *NetTransport) Read(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, notConnected(errors.TransportErrorSocketReadFailure)
	}

	n, err := t.conn.Read(buf)
	if err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
			return n, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", err)
		}
		return n, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}
	return n, nil
}

// Shutdown closes both directions, which ends a pending Read with io.EOF
func (t *NetTransport) Shutdown() error {
	if t.conn == nil {
		return nil
	}
	half, ok := t.conn.(interface {
		CloseRead() error
		CloseWrite() error
	})
	if !ok {
		return nil
	}
	if err := half.CloseWrite(); err != nil && !stderrors.Is(err, syscall.ENOTCONN) {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "failed to shut socket down", err)
	}
	if err := half.CloseRead(); err != nil && !stderrors.Is(err, syscall.ENOTCONN) {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "failed to shut socket down", err)
	}
	return nil
}

// Close closes the connection
func (t *NetTransport) Close() error {
	if t.conn == nil {
		return nil // Idempotent close
	}

	err := t.conn.Close()
	t.conn = nil

	if err != nil {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "failed to close connection", err)
	}
	return nil
}
