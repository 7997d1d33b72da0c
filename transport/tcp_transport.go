package transport

import (
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/iceber/iouring-go"
	"github.com/nczempin/httpc-go-pipe/errors"
)

// TcpTransport implements Transport using io_uring for async I/O
type TcpTransport struct {
	uringConn
}

// NewTcpTransport creates a new TCP transport with io_uring
func NewTcpTransport() (*TcpTransport, error) {
	conn, err := newUringConn()
	if err != nil {
		return nil, err
	}
	return &TcpTransport{uringConn: conn}, nil
}

// Connect establishes a TCP connection using an io_uring connect request
func (t *TcpTransport) Connect(host string, port int) error {
	if err := t.checkUnconnected(); err != nil {
		return err
	}

	sa, family, err := resolveSockaddr(host, port)
	if err != nil {
		return err
	}

	fd, err := newTcpSocket(family)
	if err != nil {
		return err
	}

	prep, err := iouring.Connect(fd, sa)
	if err != nil {
		syscall.Close(fd)
		return errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to prepare connect request",
			err,
		)
	}

	if _, err := t.submit(prep, errors.TransportErrorSocketConnectFailure, "connect"); err != nil {
		syscall.Close(fd)
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to connect to %s", net.JoinHostPort(host, strconv.Itoa(port))),
			err,
		)
	}

	t.fd = fd
	t.closed = false
	return nil
}
