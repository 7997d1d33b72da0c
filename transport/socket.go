package transport

import (
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/nczempin/httpc-go-pipe/errors"
)

// resolveSockaddr resolves host:port to a socket address and its family
func resolveSockaddr(host string, port int) (syscall.Sockaddr, int, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, errors.NewTransportError(
			errors.TransportErrorDnsFailure,
			fmt.Sprintf("failed to resolve %s", addr),
			err,
		)
	}

	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa4 := &syscall.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		return sa4, syscall.AF_INET, nil
	}
	sa6 := &syscall.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa6.Addr[:], tcpAddr.IP.To16())
	return sa6, syscall.AF_INET6, nil
}

// newTcpSocket creates a stream socket with Nagle disabled. It must stay
// blocking: io_uring completes recv and connect on an O_NONBLOCK socket
// with EAGAIN/EINPROGRESS.
func newTcpSocket(family int) (int, error) {
	fd, err := syscall.Socket(family, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			err,
		)
	}

	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
		syscall.Close(fd)
		return -1, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to set TCP_NODELAY",
			err,
		)
	}
	return fd, nil
}

// shutdownSocket shuts fd down in both directions; a socket that is
// already disconnected is not an error
func shutdownSocket(fd int) error {
	if fd < 0 {
		return nil
	}
	if err := syscall.Shutdown(fd, syscall.SHUT_RDWR); err != nil && err != syscall.ENOTCONN {
		return errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"failed to shut socket down",
			err,
		)
	}
	return nil
}

func notConnected(kind errors.TransportError) error {
	return errors.NewTransportError(kind, "not connected", nil)
}

func peerClosed() error {
	return errors.NewTransportError(
		errors.TransportErrorConnectionClosed,
		"connection closed by peer",
		nil,
	)
}
