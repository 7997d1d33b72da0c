// Package transport moves raw bytes between the client and a peer. It knows
// nothing about HTTP: connection setup, reads, writes, shutdown.
package transport

// Transport defines the interface for network transports
type Transport interface {
	// Connect establishes a connection to the specified host and port.
	// For Unix sockets, host is the socket path and port is ignored.
	Connect(host string, port int) error

	// Write sends all of buf over the connection
	// Returns the number of bytes written
	Write(buf []byte) (int, error)

	// Read receives available data from the connection into buf
	// Returns the number of bytes read; end of stream is reported as a
	// TransportErrorConnectionClosed error
	Read(buf []byte) (int, error)

	// Shutdown shuts the connection down in both directions without
	// releasing it, waking a Read blocked on another goroutine
	Shutdown() error

	// Close closes the connection
	Close() error
}
