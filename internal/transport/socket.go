// Package transport creates and operates the broker's raw sockets: the UDP
// publication endpoint and the TCP subscriber listener/streams. Sockets are
// plain, blocking file descriptors manipulated directly through the
// syscall package (manual socket/bind/listen instead of net.Listen) so that
// readiness comes exclusively from the broker's own poll set (internal/
// pollset) rather than from goroutines or the Go runtime's netpoller.
package transport

import (
	"fmt"
	"syscall"
)

// NewUDPSocket creates a bound, blocking UDP socket on the given port,
// any interface.
func NewUDPSocket(port int) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return -1, fmt.Errorf("transport: udp socket: %w", err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("transport: udp reuseaddr: %w", err)
	}

	addr := &syscall.SockaddrInet4{Port: port}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("transport: udp bind: %w", err)
	}

	return fd, nil
}

// NewTCPListener creates a bound, listening, blocking TCP socket on the
// given port, any interface, with the given listen backlog.
func NewTCPListener(port, backlog int) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("transport: tcp socket: %w", err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("transport: tcp reuseaddr: %w", err)
	}

	addr := &syscall.SockaddrInet4{Port: port}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("transport: tcp bind: %w", err)
	}

	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("transport: tcp listen: %w", err)
	}

	return fd, nil
}

// Accept accepts one pending connection on a listening socket, enables
// TCP_NODELAY on it, and
// returns the new fd plus the peer's "ip:port" address.
func Accept(listenFd int) (int, string, error) {
	connFd, sa, err := syscall.Accept(listenFd)
	if err != nil {
		return -1, "", fmt.Errorf("transport: accept: %w", err)
	}

	if err := syscall.SetsockoptInt(connFd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
		syscall.Close(connFd)
		return -1, "", fmt.Errorf("transport: set nodelay: %w", err)
	}

	return connFd, sockaddrString(sa), nil
}

// RecvFrom reads one datagram into buf, returning the sender's "ip:port".
func RecvFrom(fd int, buf []byte) (int, string, error) {
	n, sa, err := syscall.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, "", fmt.Errorf("transport: recvfrom: %w", err)
	}
	return n, sockaddrString(sa), nil
}

func sockaddrString(sa syscall.Sockaddr) string {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	default:
		return "unknown:0"
	}
}

// Close closes a raw file descriptor.
func Close(fd int) error {
	return syscall.Close(fd)
}

// Conn adapts a raw, blocking file descriptor to io.Reader/io.Writer so it
// can be used directly with internal/wire's SendExact/RecvExact.
type Conn struct {
	Fd int
}

func (c Conn) Read(p []byte) (int, error) {
	n, err := syscall.Read(c.Fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c Conn) Write(p []byte) (int, error) {
	n, err := syscall.Write(c.Fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}
