package transport

import (
	"syscall"

	"github.com/nczempin/httpc-go-pipe/errors"
)

// UnixTransport implements Transport using Unix domain sockets with io_uring
type UnixTransport struct {
	uringConn
}

// NewUnixTransport creates a new Unix domain socket transport with io_uring
func NewUnixTransport() (*UnixTransport, error) {
	conn, err := newUringConn()
	if err != nil {
		return nil, err
	}
	return &UnixTransport{uringConn: conn}, nil
}

// Connect establishes a connection to a Unix domain socket
// For Unix sockets, the host parameter is the socket path, and port is ignored
func (t *UnixTransport) Connect(path string, port int) error {
	if err := t.checkUnconnected(); err != nil {
		return err
	}

	fd, err := syscall.Socket(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			err,
		)
	}

	// Use blocking connect (io_uring connect support is limited)
	if err := syscall.Connect(fd, &syscall.SockaddrUnix{Name: path}); err != nil {
		syscall.Close(fd)
		return errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			"failed to connect to unix socket "+path,
			err,
		)
	}

	t.fd = fd
	t.closed = false
	return nil
}
