package transport

import (
	"syscall"

	"github.com/iceber/iouring-go"
	"github.com/nczempin/httpc-go-pipe/errors"
)

// uringConn is a connected socket driven through an iouring-go ring.
// iouring-go completes every request on its own channel, so a reader and
// a writer goroutine can share the ring.
type uringConn struct {
	iour   *iouring.IOURing
	fd     int
	closed bool
}

func newUringConn() (uringConn, error) {
	// Create io_uring instance with queue depth of 32
	iour, err := iouring.New(32)
	if err != nil {
		return uringConn{}, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}
	return uringConn{iour: iour, fd: -1}, nil
}

// submit queues one request and waits for its completion
func (c *uringConn) submit(req iouring.PrepRequest, kind errors.TransportError, what string) (int, error) {
	ch := make(chan iouring.Result, 1)
	if _, err := c.iour.SubmitRequest(req, ch); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit "+what+" request",
			err,
		)
	}

	result := <-ch
	n, err := result.ReturnInt()
	if err != nil {
		return 0, errors.NewTransportError(kind, what+" failed", err)
	}
	return n, nil
}

// Write sends data over the connection using io_uring
func (c *uringConn) Write(buf []byte) (int, error) {
	if c.fd < 0 {
		return 0, notConnected(errors.TransportErrorSocketWriteFailure)
	}
	if c.closed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		n, err := c.submit(iouring.Send(c.fd, buf[totalWritten:], 0), errors.TransportErrorSocketWriteFailure, "write")
		if err != nil {
			return totalWritten, err
		}
		if n <= 0 {
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorConnectionClosed,
				"connection closed during write",
				nil,
			)
		}
		totalWritten += n
	}
	return totalWritten, nil
}

// Read receives data from the connection using io_uring
func (c *uringConn) Read(buf []byte) (int, error) {
	if c.fd < 0 {
		return 0, notConnected(errors.TransportErrorSocketReadFailure)
	}
	if c.closed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}

	n, err := c.submit(iouring.Recv(c.fd, buf, 0), errors.TransportErrorSocketReadFailure, "read")
	if err != nil {
		return 0, err
	}
	if n == 0 && len(buf) > 0 {
		return 0, peerClosed()
	}
	return n, nil
}

// Shutdown wakes a pending read with end of stream
func (c *uringConn) Shutdown() error {
	return shutdownSocket(c.fd)
}

// Close closes the connection
func (c *uringConn) Close() error {
	if c.fd < 0 {
		return nil // Already closed or never connected
	}

	if !c.closed {
		c.closed = true
		if err := syscall.Close(c.fd); err != nil {
			return errors.NewTransportError(
				errors.TransportErrorConnectionClosed,
				"failed to close socket",
				err,
			)
		}
		c.fd = -1
	}
	return nil
}

// Destroy cleans up resources including the io_uring instance
func (c *uringConn) Destroy() {
	c.Close()
	if c.iour != nil {
		c.iour.Close()
		c.iour = nil
	}
}

func (c *uringConn) checkUnconnected() error {
	if c.fd >= 0 {
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			"already connected",
			nil,
		)
	}
	return nil
}
