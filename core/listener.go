package core

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenSocket creates a non-blocking IPv4 listening socket and returns it
// with the bound address (port 0 picks an ephemeral port)
func listenSocket(addr string, port, backlog int) (int, *net.TCPAddr, error) {
	var ip [4]byte
	if addr != "" {
		parsed := net.ParseIP(addr).To4()
		if parsed == nil {
			return -1, nil, fmt.Errorf("listen: %q is not an IPv4 address", addr)
		}
		copy(ip[:], parsed)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, fmt.Errorf("listen: socket: %w", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (int, *net.TCPAddr, error) {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("listen: %s: %w", op, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("SO_REUSEADDR", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("nonblock", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: ip}); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	bound := &net.TCPAddr{IP: net.IP(ip[:]), Port: port}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		bound = &net.TCPAddr{IP: net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3]), Port: in4.Port}
	}

	return fd, bound, nil
}

// configureClient prepares an accepted socket for the event loop
func configureClient(fd int) error {
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	// TCP_NODELAY: Disable Nagle's algorithm
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
