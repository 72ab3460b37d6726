// Package netloop implements the non-blocking, single-threaded event
// loop described in spec.md §4.4 and the per-connection state machine
// in §4.5, using golang.org/x/sys/unix epoll primitives. Grounded on
// NetLifeGuru-router/router.go's use of unix socket options
// (SO_REUSEADDR/SO_REUSEPORT) — the only raw-socket precedent in the
// retrieval pack — extended here to a full epoll readiness loop since
// no pack example builds one end-to-end; spec.md §4.4 requires a
// single-threaded level-triggered multiplexer, which has no higher-level
// net/http equivalent to borrow from.
package netloop

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listener is one non-blocking listening endpoint bound to a single
// port (spec.md §2 Listener Pool: "one non-blocking listening endpoint
// per distinct port").
type Listener struct {
	Port int
	fd   int

	// tcp keeps the underlying *net.TCPListener alive. The event loop
	// drives fd directly via epoll, but if this reference were dropped
	// the runtime's finalizer would close the fd out from under it the
	// next time the garbage collector ran.
	tcp net.Listener
}

// NewListener binds and listens on port, sets SO_REUSEADDR/SO_REUSEPORT,
// and puts the listening socket into non-blocking mode.
func NewListener(port int) (*Listener, error) {
	tcp, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	tcpListener := tcp.(*net.TCPListener)

	sysConn, err := tcpListener.SyscallConn()
	if err != nil {
		tcpListener.Close()
		return nil, err
	}

	var fd int
	var ctrlErr error
	err = sysConn.Control(func(rawFd uintptr) {
		fd = int(rawFd)
		if e := unix.SetNonblock(fd, true); e != nil {
			ctrlErr = e
			return
		}
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		tcpListener.Close()
		return nil, err
	}
	if ctrlErr != nil {
		tcpListener.Close()
		return nil, ctrlErr
	}

	// The net.TCPListener wrapper is only used to perform the bind/listen
	// syscalls and to obtain the fd; the event loop drives the fd
	// directly via epoll from here on. It is retained (not for I/O) so
	// the runtime doesn't finalize it out from under the loop.
	return &Listener{Port: port, fd: fd, tcp: tcpListener}, nil
}

// Fd returns the raw, non-blocking listening file descriptor.
func (l *Listener) Fd() int { return l.fd }

// Accept performs a single non-blocking accept4, returning the new
// connection's fd and peer address, or ok=false if no connection was
// pending (EAGAIN/EWOULDBLOCK).
func (l *Listener) Accept() (fd int, peerAddr string, ok bool, err error) {
	nfd, sa, aerr := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK {
			return 0, "", false, nil
		}
		return 0, "", false, aerr
	}
	return nfd, sockaddrToString(sa), true, nil
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return l.tcp.Close()
}

func sockaddrToString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}
