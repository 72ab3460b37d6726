package cgi_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/webservgo/webserv/internal/cgi"
	"github.com/webservgo/webserv/internal/request"
	"github.com/webservgo/webserv/internal/resource"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "script.sh")
	assert.NilError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func TestRunParsesStatusAndHeaders(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `printf 'Status: 201 Created\r\nX-Custom: yes\r\n\r\nhello body'`)
	req := request.New()
	assert.NilError(t, request.TryParseHead([]byte("GET /cgi/script.sh HTTP/1.1\r\nHost: x\r\n\r\n"), req))

	res := &resource.Resource{Kind: resource.Cgi, Path: script, ScriptName: "/cgi/script.sh"}
	result := cgi.Run(context.Background(), res, req, nil, "127.0.0.1", "localhost", 8080, zap.NewNop())

	assert.Equal(t, result.Status, 201)
	assert.Equal(t, result.Headers["X-Custom"], "yes")
	assert.Equal(t, string(result.Body), "hello body")
}

func TestRunDefaultsStatusTo200WhenNoStatusHeader(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `printf 'Content-Type: text/plain\r\n\r\nok'`)
	req := request.New()
	assert.NilError(t, request.TryParseHead([]byte("GET /cgi/script.sh HTTP/1.1\r\nHost: x\r\n\r\n"), req))

	res := &resource.Resource{Kind: resource.Cgi, Path: script}
	result := cgi.Run(context.Background(), res, req, nil, "127.0.0.1", "localhost", 8080, zap.NewNop())

	assert.Equal(t, result.Status, 200)
	assert.Equal(t, result.Headers["Content-Type"], "text/plain")
	assert.Equal(t, string(result.Body), "ok")
}

func TestRunNonZeroExitIsBadGateway(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `exit 1`)
	req := request.New()
	assert.NilError(t, request.TryParseHead([]byte("GET /cgi/script.sh HTTP/1.1\r\nHost: x\r\n\r\n"), req))

	res := &resource.Resource{Kind: resource.Cgi, Path: script}
	result := cgi.Run(context.Background(), res, req, nil, "127.0.0.1", "localhost", 8080, zap.NewNop())

	assert.Equal(t, result.Status, 502)
}

func TestRunTimeoutIsGatewayTimeout(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `sleep 5`)
	req := request.New()
	assert.NilError(t, request.TryParseHead([]byte("GET /cgi/script.sh HTTP/1.1\r\nHost: x\r\n\r\n"), req))

	// Override with a short-lived context to avoid a real 10s wait in
	// this test while still exercising the SIGTERM-on-expiry path.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := &resource.Resource{Kind: resource.Cgi, Path: script}
	result := cgi.Run(ctx, res, req, nil, "127.0.0.1", "localhost", 8080, zap.NewNop())

	assert.Equal(t, result.Status, 504)
}
