package request_test

import (
	"testing"

	"github.com/webservgo/webserv/internal/request"
	"gotest.tools/v3/assert"
)

func TestTryParseHeadIncompleteWithoutTerminator(t *testing.T) {
	t.Parallel()

	req := request.New()
	err := request.TryParseHead([]byte("GET / HTTP/1.1\r\nHost: x\r\n"), req)
	assert.Equal(t, err, request.HeadIncomplete)
}

func TestTryParseHeadBasic(t *testing.T) {
	t.Parallel()

	raw := "GET /index.html?x=1 HTTP/1.1\r\nHost: Example.com:8080\r\nContent-Length: 5\r\n\r\nhello"
	req := request.New()
	err := request.TryParseHead([]byte(raw), req)
	assert.NilError(t, err)

	assert.Equal(t, req.Valid, true)
	assert.Equal(t, req.Method, request.MethodGet)
	assert.Equal(t, req.RequestURL, "/index.html")
	assert.Equal(t, req.Query, "x=1")
	assert.Equal(t, req.Hostname, "example.com")
	cl, ok := req.Header("content-length")
	assert.Assert(t, ok)
	assert.Equal(t, cl, "5")
	assert.Equal(t, req.BodyStart, len(raw)-len("hello"))
}

func TestTryParseHeadInvalidMethod(t *testing.T) {
	t.Parallel()

	req := request.New()
	err := request.TryParseHead([]byte("FOO / HTTP/1.1\r\nHost: x\r\n\r\n"), req)
	assert.NilError(t, err)
	assert.Equal(t, req.Valid, false)
}

func TestDeriveHostnameFallsBackOnMissingHeader(t *testing.T) {
	t.Parallel()

	req := request.New()
	err := request.TryParseHead([]byte("GET / HTTP/1.1\r\n\r\n"), req)
	assert.NilError(t, err)
	assert.Equal(t, req.Hostname, "localhost")
}

func TestDeriveHostnameFallsBackOnNumericHost(t *testing.T) {
	t.Parallel()

	req := request.New()
	err := request.TryParseHead([]byte("GET / HTTP/1.1\r\nHost: 1234\r\n\r\n"), req)
	assert.NilError(t, err)
	assert.Equal(t, req.Hostname, "localhost")
}

func TestKeepAliveDefaultsAndClose(t *testing.T) {
	t.Parallel()

	req := request.New()
	err := request.TryParseHead([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), req)
	assert.NilError(t, err)
	assert.Equal(t, req.KeepAlive, true)
	assert.Equal(t, req.KeepAliveTimeout, 5)
	assert.Equal(t, req.MaxReconnections, 100)

	req2 := request.New()
	err = request.TryParseHead([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"), req2)
	assert.NilError(t, err)
	assert.Equal(t, req2.KeepAlive, false)
}

func TestKeepAliveTimeoutClampedTo70(t *testing.T) {
	t.Parallel()

	req := request.New()
	err := request.TryParseHead([]byte("GET / HTTP/1.1\r\nHost: x\r\nKeep-Alive: timeout=200, max=500\r\n\r\n"), req)
	assert.NilError(t, err)
	assert.Equal(t, req.KeepAliveTimeout, 70)
	assert.Equal(t, req.MaxReconnections, 100)
}

func TestSanitizeURLDecodesPercentAndPlus(t *testing.T) {
	t.Parallel()

	path, query := request.SanitizeURL("/a%20b+c?x=1%2F2")
	assert.Equal(t, path, "/a b c")
	assert.Equal(t, query, "x=1%2F2")
}

func TestSanitizeURLIdempotent(t *testing.T) {
	t.Parallel()

	u := "/a%20b+c?x=1"
	p1, _ := request.SanitizeURL(u)
	p2, _ := request.SanitizeURL(p1)
	assert.Equal(t, p1, p2)
}

func TestSanitizeURLSkipsInvalidPercent(t *testing.T) {
	t.Parallel()

	path, _ := request.SanitizeURL("/100%-off")
	assert.Equal(t, path, "/100%-off")
}

func TestDuplicateHeaderLastWriteWins(t *testing.T) {
	t.Parallel()

	req := request.New()
	err := request.TryParseHead([]byte("GET / HTTP/1.1\r\nHost: x\r\nX-Foo: one\r\nX-Foo: two\r\n\r\n"), req)
	assert.NilError(t, err)
	v, ok := req.Header("x-foo")
	assert.Assert(t, ok)
	assert.Equal(t, v, "two")
}
