package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/webservgo/webserv/config"
	"gotest.tools/v3/assert"
)

func TestParserRejectsInvalidPort(t *testing.T) {
	t.Parallel()

	src := `
server {
	listen 70000;
	location / {
		try_files ./assets/web;
	}
}
`
	p := config.NewStringParser(src)
	_, err := p.Parse()
	assert.ErrorContains(t, err, "valid port")
}

func TestParserRejectsBadHostname(t *testing.T) {
	t.Parallel()

	src := `
server {
	listen 80;
	server_name -bad-.com;
	location / {
		try_files ./assets/web;
	}
}
`
	p := config.NewStringParser(src)
	_, err := p.Parse()
	assert.ErrorContains(t, err, "valid hostname")
}

func TestParserRejectsBadErrorCode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	page := filepath.Join(dir, "404.html")
	assert.NilError(t, os.WriteFile(page, []byte("<html></html>"), 0o644))

	src := `
server {
	listen 80;
	error_page 200 ` + page + `;
	location / {
		try_files ./assets/web;
	}
}
`
	p := config.NewStringParser(src)
	_, err := p.Parse()
	assert.ErrorContains(t, err, "4XX or 5XX")
}

func TestParserAcceptsErrorPageWithExistingHTMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	page := filepath.Join(dir, "404.html")
	assert.NilError(t, os.WriteFile(page, []byte("<html></html>"), 0o644))

	src := `
server {
	listen 80;
	error_page 404 ` + page + `;
	location / {
		try_files ` + dir + `;
	}
}
`
	p := config.NewStringParser(src)
	cfg, err := p.Parse()
	assert.NilError(t, err)
	assert.Equal(t, cfg.Servers[0].ErrorPages[404], page)
}

func TestParserRejectsBodySizeOutOfRange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := `
server {
	listen 80;
	location / {
		try_files ` + dir + `;
		body_size 3;
	}
}
`
	p := config.NewStringParser(src)
	_, err := p.Parse()
	assert.ErrorContains(t, err, "body size")
}
