package netloop

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/webservgo/webserv/config"
	"go.uber.org/zap"
)

// pollTimeoutMillis bounds each epoll_wait call (spec.md §4.4 step 1:
// "Poll with a timeout <=1s"), so the idle-timeout sweep and the SIGINT
// flag are both checked at least once a second even with no I/O.
const pollTimeoutMillis = 1000

// defaultMaxConnsPerListener is spec.md §4.4's "default 10 per
// listener; configurable" cap.
const defaultMaxConnsPerListener = 10

// Loop is the single-threaded, level-triggered event loop over every
// listener and live connection (spec.md §4.4).
type Loop struct {
	epfd      int
	cfg       *config.Config
	logger    *zap.Logger
	listeners map[int]*Listener  // fd -> listener
	conns     map[int]*Connection // fd -> connection
	maxConns  int

	stopping bool
}

// New creates an epoll instance and binds one Listener per distinct
// port named in cfg.
func New(cfg *config.Config, maxConnsPerListener int, logger *zap.Logger) (*Loop, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	if maxConnsPerListener <= 0 {
		maxConnsPerListener = defaultMaxConnsPerListener
	}

	l := &Loop{
		epfd:      epfd,
		cfg:       cfg,
		logger:    logger,
		listeners: map[int]*Listener{},
		conns:     map[int]*Connection{},
		maxConns:  maxConnsPerListener,
	}

	for _, port := range cfg.Ports() {
		listener, err := NewListener(port)
		if err != nil {
			l.closeAll()
			return nil, fmt.Errorf("bind :%d: %w", port, err)
		}
		if err := l.registerRead(listener.Fd()); err != nil {
			l.closeAll()
			return nil, fmt.Errorf("epoll_ctl listener :%d: %w", port, err)
		}
		l.listeners[listener.Fd()] = listener
		logger.Info("listening", zap.Int("port", port))
	}

	return l, nil
}

func (l *Loop) registerRead(fd int) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	})
}

func (l *Loop) registerReadWrite(fd int) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT,
		Fd:     int32(fd),
	})
}

func (l *Loop) deregister(fd int) {
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Stop requests the loop terminate after the current tick (spec.md §5:
// "the process is interrupt-driven; SIGINT flips a flag").
func (l *Loop) Stop() { l.stopping = true }

// Run drives the event loop until Stop is called or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 256)

	for !l.stopping {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(l.epfd, events, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if listener, ok := l.listeners[fd]; ok {
				l.acceptFrom(listener)
				continue
			}
			conn, ok := l.conns[fd]
			if !ok {
				continue
			}
			l.service(ctx, conn, events[i].Events)
		}

		l.sweepIdleAndDropped()
	}

	return nil
}

func (l *Loop) acceptFrom(listener *Listener) {
	for {
		if l.connsOnPort(listener.Port) >= l.maxConns {
			fd, _, ok, err := listener.Accept()
			if !ok || err != nil {
				return
			}
			// spec.md §4.4: over the cap, accept and immediately
			// respond 503 then close.
			respondServiceUnavailable(fd)
			_ = unix.Close(fd)
			continue
		}

		fd, peer, ok, err := listener.Accept()
		if err != nil {
			l.logger.Warn("accept error", zap.Int("port", listener.Port), zap.Error(err))
			return
		}
		if !ok {
			return
		}

		if err := l.registerReadWrite(fd); err != nil {
			l.logger.Warn("epoll_ctl add connection", zap.Error(err))
			_ = unix.Close(fd)
			continue
		}
		conn := NewConnection(fd, listener.Port, peer, l.cfg)
		l.conns[fd] = conn
		l.logger.Info("accepted", zap.String("peer", peer), zap.Int("port", listener.Port))
	}
}

func (l *Loop) connsOnPort(port int) int {
	count := 0
	for _, c := range l.conns {
		if c.listenPort == port {
			count++
		}
	}
	return count
}

func respondServiceUnavailable(fd int) {
	body := []byte("<!DOCTYPE html><html><body><h1>503 Service Unavailable</h1></body></html>")
	resp := fmt.Sprintf("HTTP/1.1 503 Service Unavailable\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", len(body))
	_, _ = unix.Write(fd, append([]byte(resp), body...))
}

func (l *Loop) service(ctx context.Context, conn *Connection, mask uint32) {
	state := conn.State()

	if mask&unix.EPOLLIN != 0 && state != Dispatching && state != Writing {
		conn.ReadInto()
	}

	if conn.State() == Dispatching {
		serverName := l.serverNameFor(conn)
		conn.Dispatch(ctx, l.cfg, serverName, l.logger)
	}

	if mask&unix.EPOLLOUT != 0 && conn.State() == Writing {
		conn.WriteOut()
	}

	if conn.State() == Closing || conn.IsDropped() {
		l.closeConn(conn)
	}
}

func (l *Loop) serverNameFor(conn *Connection) string {
	server := l.cfg.MatchServer(conn.listenPort, "")
	if server == nil || server.Hostname == "" {
		return "localhost"
	}
	return server.Hostname
}

func (l *Loop) sweepIdleAndDropped() {
	now := time.Now()
	for fd, conn := range l.conns {
		if conn.IdleTimedOut(now) || conn.IsDropped() {
			l.deregister(fd)
			_ = conn.Close()
			delete(l.conns, fd)
		}
	}
}

func (l *Loop) closeConn(conn *Connection) {
	l.deregister(conn.Fd())
	_ = conn.Close()
	delete(l.conns, conn.Fd())
}

func (l *Loop) closeAll() {
	for fd, listener := range l.listeners {
		l.deregister(fd)
		_ = listener.Close()
	}
	for fd, conn := range l.conns {
		l.deregister(fd)
		_ = conn.Close()
	}
	_ = unix.Close(l.epfd)
}

// Close releases the epoll instance and every listener/connection fd.
func (l *Loop) Close() {
	l.closeAll()
}
