// Package cgi drives CGI/1.1 scripts for resolved Cgi resources
// (spec.md §4.9). Grounded on the CGI/1.1 environment-variable
// construction in perkeep's website/cgi.go and the fastcgi env-building
// pattern in caddyserver/caddy's modules/caddyhttp/reverseproxy/fastcgi;
// the original C++ source's fork/pipe/waitpid(WNOHANG) polling loop is
// reshaped to Go's os/exec + context.WithTimeout, the idiomatic
// equivalent every CGI-adjacent example in the pack builds on.
package cgi

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/webservgo/webserv/internal/request"
	"github.com/webservgo/webserv/internal/resource"
	"go.uber.org/zap"
)

// Timeout is the wall-clock bound on a CGI script's execution
// (spec.md §4.9 step 4, §5 Cancellation & timeouts).
const Timeout = 10 * time.Second

// Result is the outcome of running a CGI script: either a fully parsed
// response (status + headers + body) or a status-only failure
// (timeout/non-zero exit) with no further headers to merge.
type Result struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Run executes the script named by res.Path with the CGI/1.1 environment
// derived from req and res, feeding reqBody on stdin, and returns the
// parsed result. remoteAddr and serverPort describe the accepting
// connection; logger receives lifecycle events (spec.md §10.1).
func Run(ctx context.Context, res *resource.Resource, req *request.Request, reqBody []byte, remoteAddr, serverName string, serverPort int, logger *zap.Logger) *Result {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, res.Path)
	cmd.Env = buildEnv(res, req, remoteAddr, serverName, serverPort)
	cmd.Stdin = bytes.NewReader(reqBody)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// spec.md §4.9 step 4 calls for SIGTERM on timeout, not the
	// default SIGKILL exec.CommandContext sends on context expiry.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn("cgi timeout", zap.String("script", res.Path), zap.Duration("elapsed", elapsed))
		return &Result{Status: 504}
	}
	if err != nil {
		logger.Error("cgi non-zero exit", zap.String("script", res.Path), zap.Error(err), zap.String("stderr", stderr.String()))
		return &Result{Status: 502}
	}

	logger.Info("cgi completed", zap.String("script", res.Path), zap.Duration("elapsed", elapsed))
	return parseOutput(stdout.Bytes())
}

// parseOutput splits the CGI output's header block (terminated by the
// first blank line) from its body, and extracts a leading `Status:`
// pseudo-header if present (spec.md §4.9 step 5).
func parseOutput(out []byte) *Result {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(out, sep)
	sepLen := 4
	if idx < 0 {
		sep = []byte("\n\n")
		idx = bytes.Index(out, sep)
		sepLen = 2
	}
	if idx < 0 {
		// No header block at all: treat the whole output as body.
		return &Result{Status: 200, Headers: map[string]string{}, Body: out}
	}

	headBytes := out[:idx]
	body := out[idx+sepLen:]
	headers := map[string]string{}
	status := 200

	lines := strings.Split(strings.ReplaceAll(string(headBytes), "\r\n", "\n"), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if strings.EqualFold(key, "Status") {
			if n, err := strconv.Atoi(strings.Fields(value)[0]); err == nil {
				status = n
			}
			continue
		}
		headers[key] = value
	}

	return &Result{Status: status, Headers: headers, Body: body}
}

// buildEnv constructs the ordered CGI/1.1 environment list (spec.md
// §4.9 step 1), following getCGIVirtualPath/addPathEnv from
// original_source/src/cgiUtils.cpp for the SCRIPT_NAME/PATH_INFO/
// PATH_TRANSLATED/QUERY_STRING derivation and addHeadersToEnv for the
// per-header HTTP_<NAME> translation.
func buildEnv(res *resource.Resource, req *request.Request, remoteAddr, serverName string, serverPort int) []string {
	env := []string{
		"SERVER_SOFTWARE=webserv-go/1.0",
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=HTTP/1.1",
		"SERVER_NAME=" + serverName,
		"SERVER_PORT=" + strconv.Itoa(serverPort),
		"REQUEST_METHOD=" + string(req.Method),
		"REMOTE_ADDR=" + remoteAddr,
		"SCRIPT_NAME=" + res.ScriptName,
		"SCRIPT_FILENAME=" + res.Path,
		"PATH_INFO=" + res.PathInfo,
		"PATH_TRANSLATED=" + res.Path + res.PathInfo,
		"QUERY_STRING=" + res.QueryString,
		"REQUEST_URI=" + req.RawURL,
		"URL=" + req.RawURL,
	}

	if ct, ok := req.Header("content-type"); ok {
		env = append(env, "CONTENT_TYPE="+ct)
	}
	if cl, ok := req.Header("content-length"); ok {
		env = append(env, "CONTENT_LENGTH="+cl)
	}

	// Stable ordering for reproducible env across runs/tests, as
	// addHeadersToEnv walks the original's header map deterministically.
	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "content-type" || k == "content-length" {
			continue
		}
		env = append(env, headerToEnvVar(k)+"="+req.Headers[k])
	}

	env = append(env, os.Environ()...)
	return env
}

func headerToEnvVar(header string) string {
	var b strings.Builder
	b.WriteString("HTTP_")
	for i := 0; i < len(header); i++ {
		c := header[i]
		if c == '-' {
			b.WriteByte('_')
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// TimeoutError renders a diagnostic for logging when a script is
// terminated for exceeding Timeout.
func TimeoutError(script string) error {
	return fmt.Errorf("cgi script %q exceeded %s timeout", script, Timeout)
}
