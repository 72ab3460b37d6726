package netloop

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/webservgo/webserv/config"
	"github.com/webservgo/webserv/internal/cgi"
	"github.com/webservgo/webserv/internal/request"
	"github.com/webservgo/webserv/internal/resource"
	"github.com/webservgo/webserv/internal/respbuild"
	"go.uber.org/zap"
)

// State is a Connection's position in the FSM of spec.md §4.5.
type State int

const (
	Accepted State = iota
	ReadingHead
	HeadParsed
	ReadingBody
	Dispatching
	Writing
	Idle
	Closing
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case ReadingHead:
		return "ReadingHead"
	case HeadParsed:
		return "HeadParsed"
	case ReadingBody:
		return "ReadingBody"
	case Dispatching:
		return "Dispatching"
	case Writing:
		return "Writing"
	case Idle:
		return "Idle"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

const staging = 64 * 1024
const bodyOverflowMargin = 4096

// Connection is a single accepted TCP connection and its FSM state
// (spec.md §3 Connection).
type Connection struct {
	fd         int
	listenPort int
	state      State

	raw  []byte // accumulated request bytes
	req  *request.Request
	resp []byte // serialized bytes pending write
	sent int

	keepAlive        bool
	keepAliveTimeout time.Duration
	maxReconnections int
	exchangeCount    int

	startTime  time.Time
	lastActive time.Time
	peerAddr   string
	dropped    bool

	cfg             *config.Config
	resolvedRoute   *config.Route
	pendingOverflow bool
}

// NewConnection wraps a freshly accepted, non-blocking fd. cfg is kept so
// the route (and its configured body size) can be prefix-matched as soon
// as the head is parsed, before the body is accumulated.
func NewConnection(fd, listenPort int, peerAddr string, cfg *config.Config) *Connection {
	now := time.Now()
	return &Connection{
		fd:               fd,
		listenPort:       listenPort,
		state:            Accepted,
		req:              request.New(),
		keepAliveTimeout: 5 * time.Second,
		maxReconnections: 100,
		startTime:        now,
		lastActive:       now,
		peerAddr:         peerAddr,
		cfg:              cfg,
	}
}

func (c *Connection) Fd() int          { return c.fd }
func (c *Connection) State() State     { return c.state }
func (c *Connection) IsDropped() bool  { return c.dropped }
func (c *Connection) PeerAddr() string { return c.peerAddr }

// IdleTimedOut reports whether the connection has sat in Idle state
// past its keep-alive timeout (spec.md §4.5 Idle -> Closing).
func (c *Connection) IdleTimedOut(now time.Time) bool {
	return c.state == Idle && now.Sub(c.lastActive) > c.keepAliveTimeout
}

// ReadInto performs one non-blocking recv and appends to the raw
// buffer, then attempts head parsing (spec.md §4.5 Read contract).
func (c *Connection) ReadInto() {
	buf := make([]byte, staging)
	n, err := unix.Read(c.fd, buf)
	if n > 0 {
		c.raw = append(c.raw, buf[:n]...)
		c.lastActive = time.Now()
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		c.state = Closing
		c.dropped = true
		return
	}
	if n == 0 {
		c.state = Closing
		return
	}

	c.advanceAfterRead()
}

func (c *Connection) advanceAfterRead() {
	if c.state == Accepted || c.state == Idle {
		c.state = ReadingHead
	}

	switch c.state {
	case ReadingHead:
		if err := request.TryParseHead(c.raw, c.req); err == nil {
			c.state = HeadParsed
			c.afterHeadParsed()
		}
	case ReadingBody:
		c.checkBodyProgress()
	}
}

func (c *Connection) afterHeadParsed() {
	c.keepAlive = c.req.KeepAlive
	c.keepAliveTimeout = time.Duration(c.req.KeepAliveTimeout) * time.Second
	c.maxReconnections = c.req.MaxReconnections
	c.prefixMatchRoute()

	if !c.requiresBody() {
		c.state = Dispatching
		return
	}
	c.state = ReadingBody
	c.checkBodyProgress()
}

// prefixMatchRoute resolves c.resolvedRoute as soon as the head is known,
// so the route's configured body size limit is in effect for the whole
// ReadingBody phase (spec.md §4.5's ReadingBody -> Dispatching(413)
// transition is driven by the matched route's bodySize, not the default
// unlimited one). This is the same server/route prefix match Dispatch's
// full resolver performs; it is repeated here deliberately rather than
// cached, since it is cheap and avoids running internal/resource's
// richer Resolve (filesystem checks, CGI matching) before the body has
// arrived.
func (c *Connection) prefixMatchRoute() {
	if c.cfg == nil || !c.req.Valid {
		return
	}
	server := c.cfg.MatchServer(c.listenPort, c.req.Hostname)
	if server == nil {
		return
	}
	route, _ := server.MatchRoute(c.req.RequestURL)
	c.resolvedRoute = route
}

func (c *Connection) requiresBody() bool {
	if !c.req.Valid {
		return false
	}
	_, ok := c.req.Header("content-length")
	return ok
}

func (c *Connection) contentLength() int {
	v, ok := c.req.Header("content-length")
	if !ok {
		return 0
	}
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0
		}
		n = n*10 + int(v[i]-'0')
	}
	return n
}

// unlimitedBodySize is the sentinel Route.EffectiveBodySize returns when
// no body_size was configured.
const unlimitedBodySize = ^uint64(0)

// checkBodyProgress implements spec.md §4.5's ReadingBody transitions:
// "size > route.bodySize" fires as soon as the declared Content-Length
// exceeds the matched route's limit, and the §9 overflow resolution caps
// the accumulated buffer at maxBodySize + margin as a backstop (e.g. a
// Content-Length that understates the actual body) and responds 413.
func (c *Connection) checkBodyProgress() {
	cl := c.contentLength()
	bodyLen := len(c.raw) - c.req.BodyStart
	if bodyLen < 0 {
		bodyLen = 0
	}

	maxBody := c.maxBodySize()
	if maxBody != unlimitedBodySize && uint64(cl) > maxBody {
		c.state = Dispatching
		c.pendingOverflow = true
		return
	}

	threshold := saturatingAddUint64(maxBody, bodyOverflowMargin)
	if uint64(bodyLen) > threshold {
		c.state = Dispatching
		c.pendingOverflow = true
		return
	}

	if bodyLen >= cl {
		c.state = Dispatching
	}
}

func (c *Connection) maxBodySize() uint64 {
	if c.resolvedRoute != nil {
		return c.resolvedRoute.EffectiveBodySize()
	}
	return unlimitedBodySize
}

// saturatingAddUint64 adds a and b, clamping to the uint64 max instead of
// wrapping. maxBodySize's unlimited sentinel is ^uint64(0) itself, so an
// unchecked a+margin would wrap around to a tiny number and make every
// request look oversized.
func saturatingAddUint64(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// Body returns the accumulated body bytes for the current request.
func (c *Connection) Body() []byte {
	if c.req.BodyStart > len(c.raw) {
		return nil
	}
	return c.raw[c.req.BodyStart:]
}

// Dispatch resolves the request to a Resource, runs CGI if needed, and
// builds the outgoing response bytes (spec.md §4.5 Dispatching ->
// Writing). ctx bounds any CGI invocation.
func (c *Connection) Dispatch(ctx context.Context, cfg *config.Config, serverName string, logger *zap.Logger) {
	res := resource.Resolve(cfg, c.listenPort, c.req)
	c.resolvedRoute = res.Route

	// The exchange that reaches the Keep-Alive max is answered with
	// "Connection: close", since finishWrite closes the socket after it.
	if c.exchangeCount+1 >= c.maxReconnections {
		c.keepAlive = false
	}

	if c.pendingOverflow {
		c.keepAlive = false // oversized body leaves the socket in an unknown read position; always close
		resp := respbuild.FromParts(413, nil, nil, false)
		c.finishDispatch(respbuild.Serialize(resp))
		return
	}

	if res.Kind == resource.Cgi {
		result := cgi.Run(ctx, res, c.req, c.Body(), c.peerAddr, serverName, c.listenPort, logger)
		resp := respbuild.FromParts(result.Status, result.Headers, result.Body, c.keepAlive)
		c.finishDispatch(respbuild.Serialize(resp))
		return
	}

	resp := respbuild.Build(c.req, res, c.Body(), c.keepAlive)
	c.finishDispatch(respbuild.Serialize(resp))
}

func (c *Connection) finishDispatch(bytes []byte) {
	c.resp = bytes
	c.sent = 0
	c.state = Writing
	c.exchangeCount++
	c.pendingOverflow = false
}

// WriteOut issues one non-blocking send and tracks progress (spec.md
// §4.5 Write contract: "Partial writes MUST NOT block").
func (c *Connection) WriteOut() {
	if c.sent >= len(c.resp) {
		c.finishWrite()
		return
	}
	n, err := unix.Write(c.fd, c.resp[c.sent:])
	if n > 0 {
		c.sent += n
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		c.state = Closing
		c.dropped = true
		return
	}
	if c.sent >= len(c.resp) {
		c.finishWrite()
	}
}

func (c *Connection) finishWrite() {
	if c.keepAlive && c.exchangeCount < c.maxReconnections {
		c.resetForNextExchange()
		c.state = Idle
	} else {
		c.state = Closing
	}
}

func (c *Connection) resetForNextExchange() {
	c.raw = nil
	c.resp = nil
	c.sent = 0
	c.resolvedRoute = nil
	c.pendingOverflow = false
	c.lastActive = time.Now()
}

// Close releases the connection's fd.
func (c *Connection) Close() error {
	return unix.Close(c.fd)
}
