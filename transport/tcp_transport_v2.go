package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/godzie44/go-uring/uring"
	"github.com/nczempin/httpc-go-pipe/errors"
)

// TcpTransportV2 implements Transport using godzie44/go-uring for async I/O.
//
// A go-uring ring must not be driven from two goroutines, and reads and
// writes come from different ones (the receive producer and the exchange),
// so each direction owns its own ring.
type TcpTransportV2 struct {
	readRing  *uring.Ring
	writeRing *uring.Ring
	fd        int
	file      *os.File
}

// NewTcpTransportV2 creates a new TCP transport with io_uring (v2 using godzie44/go-uring)
func NewTcpTransportV2() (*TcpTransportV2, error) {
	// One ring per direction, queue depth 32 each
	readRing, err := uring.New(32)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}
	writeRing, err := uring.New(32)
	if err != nil {
		readRing.Close()
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	return &TcpTransportV2{
		readRing:  readRing,
		writeRing: writeRing,
		fd:        -1,
	}, nil
}

// Connect establishes a TCP connection
func (t *TcpTransportV2) Connect(host string, port int) error {
	if t.fd >= 0 {
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			"already connected",
			nil,
		)
	}

	sa, family, err := resolveSockaddr(host, port)
	if err != nil {
		return err
	}

	fd, err := newTcpSocket(family)
	if err != nil {
		return err
	}

	// Use blocking connect for now
	if err := syscall.Connect(fd, sa); err != nil {
		syscall.Close(fd)
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to connect to %s", net.JoinHostPort(host, strconv.Itoa(port))),
			err,
		)
	}

	t.fd = fd
	t.file = os.NewFile(uintptr(fd), "socket")
	return nil
}

// complete queues op on ring, submits it and waits for its result
func complete(ring *uring.Ring, op uring.Operation, kind errors.TransportError, what string) (int, error) {
	if err := ring.QueueSQE(op, 0, 0); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to queue "+what+" request",
			err,
		)
	}

	if _, err := ring.Submit(); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit "+what+" request",
			err,
		)
	}

	cqe, err := ring.WaitCQEvents(1)
	if err != nil {
		return 0, errors.NewTransportError(
			kind,
			"failed to wait for "+what+" completion",
			err,
		)
	}
	defer ring.SeenCQE(cqe)

	if err := cqe.Error(); err != nil {
		return 0, errors.NewTransportError(kind, what+" operation failed", err)
	}
	return int(cqe.Res), nil
}

// Write sends data over the connection using io_uring
func (t *TcpTransportV2) Write(buf []byte) (int, error) {
	if t.fd < 0 {
		return 0, notConnected(errors.TransportErrorSocketWriteFailure)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		// Sockets ignore the offset
		n, err := complete(t.writeRing, uring.Write(t.file.Fd(), buf[totalWritten:], 0),
			errors.TransportErrorSocketWriteFailure, "write")
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
func (t *TcpTransportV2) Read(buf []byte) (int, error) {
	if t.fd < 0 {
		return 0, notConnected(errors.TransportErrorSocketReadFailure)
	}

	n, err := complete(t.readRing, uring.Read(t.file.Fd(), buf, 0),
		errors.TransportErrorSocketReadFailure, "read")
	if err != nil {
		return 0, err
	}

	if n == 0 && len(buf) > 0 {
		return 0, peerClosed()
	}

	return n, nil
}

// Shutdown wakes a pending read with end of stream
func (t *TcpTransportV2) Shutdown() error {
	return shutdownSocket(t.fd)
}

// Close closes the connection
func (t *TcpTransportV2) Close() error {
	if t.fd < 0 {
		return nil
	}

	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.fd = -1

	return nil
}

// Destroy cleans up resources including the io_uring instances
func (t *TcpTransportV2) Destroy() {
	t.Close()
	for _, ring := range []*uring.Ring{t.readRing, t.writeRing} {
		if ring != nil {
			ring.Close()
		}
	}
	t.readRing, t.writeRing = nil, nil
}
