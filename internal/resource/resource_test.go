package resource_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/webservgo/webserv/config"
	"github.com/webservgo/webserv/internal/request"
	"github.com/webservgo/webserv/internal/resource"
	"gotest.tools/v3/assert"
)

func reqFor(t *testing.T, raw string) *request.Request {
	t.Helper()
	r := request.New()
	assert.NilError(t, request.TryParseHead([]byte(raw), r))
	return r
}

func TestResolveExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644))

	cfg := &config.Config{Servers: []*config.ServerBlock{{
		Port:       80,
		Routes:     map[string]*config.Route{"/": {Prefix: "/", ServeDir: dir, MethodsAllowed: map[config.Method]struct{}{config.MethodGet: {}}}},
		RouteOrder: []string{"/"},
	}}}

	req := reqFor(t, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	res := resource.Resolve(cfg, 80, req)
	assert.Equal(t, res.Kind, resource.ExistingFile)
	assert.Equal(t, res.Path, filepath.Join(dir, "index.html"))
}

func TestResolveForbiddenMethod(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Config{Servers: []*config.ServerBlock{{
		Port:       80,
		Routes:     map[string]*config.Route{"/": {Prefix: "/", ServeDir: dir, MethodsAllowed: map[config.Method]struct{}{config.MethodGet: {}}}},
		RouteOrder: []string{"/"},
	}}}

	req := reqFor(t, "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n")
	res := resource.Resolve(cfg, 80, req)
	assert.Equal(t, res.Kind, resource.ForbiddenMethod)
}

func TestResolveRedirect(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Servers: []*config.ServerBlock{{
		Port: 80,
		Routes: map[string]*config.Route{"/red/": {
			Prefix: "/red/", RedirectTo: "https://example.com/",
			MethodsAllowed: map[config.Method]struct{}{config.MethodGet: {}},
		}},
		RouteOrder: []string{"/red/"},
	}}}

	req := reqFor(t, "GET /red/path?x=1 HTTP/1.1\r\nHost: x\r\n\r\n")
	res := resource.Resolve(cfg, 80, req)
	assert.Equal(t, res.Kind, resource.Redirection)
	assert.Equal(t, res.Path, "https://example.com/path")
}

func TestResolveNotFoundAndNoMatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Config{Servers: []*config.ServerBlock{{
		Port:       80,
		Routes:     map[string]*config.Route{"/": {Prefix: "/", ServeDir: dir, MethodsAllowed: map[config.Method]struct{}{config.MethodGet: {}}}},
		RouteOrder: []string{"/"},
	}}}

	req := reqFor(t, "GET /missing.html HTTP/1.1\r\nHost: x\r\n\r\n")
	res := resource.Resolve(cfg, 80, req)
	assert.Equal(t, res.Kind, resource.NotFound)

	req2 := reqFor(t, "GET /missing.html HTTP/1.1\r\nHost: x\r\n\r\n")
	res2 := resource.Resolve(cfg, 81, req2) // no server on this port
	assert.Equal(t, res2.Kind, resource.NoMatch)
}

func TestResolveDirectoryAutoIndexVsIndexFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644))

	cfg := &config.Config{Servers: []*config.ServerBlock{{
		Port: 80,
		Routes: map[string]*config.Route{"/": {
			Prefix: "/", ServeDir: dir, IndexFile: "index.html", AutoIndex: true,
			MethodsAllowed: map[config.Method]struct{}{config.MethodGet: {}},
		}},
		RouteOrder: []string{"/"},
	}}}

	req := reqFor(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	res := resource.Resolve(cfg, 80, req)
	assert.Equal(t, res.Kind, resource.ExistingFile)
	assert.Equal(t, res.Path, filepath.Join(dir, "index.html"))
}

func TestResolveDirectoryNoIndexNoAutoIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Config{Servers: []*config.ServerBlock{{
		Port:       80,
		Routes:     map[string]*config.Route{"/": {Prefix: "/", ServeDir: dir, MethodsAllowed: map[config.Method]struct{}{config.MethodGet: {}}}},
		RouteOrder: []string{"/"},
	}}}

	req := reqFor(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	res := resource.Resolve(cfg, 80, req)
	assert.Equal(t, res.Kind, resource.NotFound)
}

func TestResolveCgiScript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.NilError(t, os.Mkdir(filepath.Join(dir, "cgi-bin"), 0o755))
	script := filepath.Join(dir, "cgi-bin", "echo.py")
	assert.NilError(t, os.WriteFile(script, []byte("#!/usr/bin/env python3\n"), 0o755))

	cfg := &config.Config{Servers: []*config.ServerBlock{{
		Port: 80,
		Routes: map[string]*config.Route{"/": {
			Prefix: "/", ServeDir: dir,
			CgiExtensions:  map[string]struct{}{".py": {}},
			MethodsAllowed: map[config.Method]struct{}{config.MethodGet: {}},
		}},
		RouteOrder: []string{"/"},
	}}}

	req := reqFor(t, "GET /cgi-bin/echo.py/extra?name=hi HTTP/1.1\r\nHost: x\r\n\r\n")
	res := resource.Resolve(cfg, 80, req)
	assert.Equal(t, res.Kind, resource.Cgi)
	assert.Equal(t, res.ScriptName, "/cgi-bin/echo.py")
	assert.Equal(t, res.PathInfo, "/extra")
	assert.Equal(t, res.QueryString, "name=hi")
}
