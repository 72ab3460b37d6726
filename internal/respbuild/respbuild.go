// Package respbuild constructs HTTP responses from a resolved Resource,
// one routine per (Method, ResourceKind) pair (spec.md §4.8).
package respbuild

import (
	"fmt"
	"html"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/webservgo/webserv/config"
	"github.com/webservgo/webserv/internal/request"
	"github.com/webservgo/webserv/internal/resource"
)

const serverSoftware = "webserv-go/1.0"

// Response is a fully-built HTTP response ready to be serialized onto
// the wire by the connection FSM.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Build dispatches on (req.Method, res.Kind) per spec.md §4.8's table.
// body is the accumulated request body (used by POST/PUT file writes);
// keepAlive controls whether a "Connection: keep-alive" header is added.
func Build(req *request.Request, res *resource.Resource, body []byte, keepAlive bool) *Response {
	var resp *Response

	switch res.Kind {
	case resource.InvalidRequest:
		resp = errorResponse(400, nil)
	case resource.NoMatch, resource.NotFound:
		resp = dispatchNotFoundOrNoMatch(req, res, body)
	case resource.ForbiddenMethod:
		resp = errorResponse(405, errorPageFor(res, 405))
	case resource.Redirection:
		resp = redirectResponse(req, res)
	case resource.Directory:
		resp = directoryResponse(res)
	case resource.ExistingFile:
		resp = dispatchExistingFile(req, res, body)
	case resource.Cgi:
		// CGI output is built by internal/cgi and never reaches this
		// table; Resolve only ever hands a Cgi resource to the CGI
		// driver's own Build path in the connection FSM.
		resp = errorResponse(502, errorPageFor(res, 502))
	default:
		resp = errorResponse(500, nil)
	}

	// Content-Length (and Content-Type) must reflect the body a GET would
	// have sent, so compute common headers from the full body first and
	// only strip the body afterward (spec.md §4.8: "HEAD ... as GET but
	// strip body").
	addCommonHeaders(resp, keepAlive)
	if req.Method == request.MethodHead {
		resp.Body = nil
	}
	return resp
}

func dispatchNotFoundOrNoMatch(req *request.Request, res *resource.Resource, body []byte) *Response {
	switch req.Method {
	case request.MethodPost:
		return createFileResponse(res, body, 201)
	case request.MethodPut:
		return createFileResponse(res, body, 201)
	default:
		return errorResponse(404, errorPageFor(res, 404))
	}
}

func dispatchExistingFile(req *request.Request, res *resource.Resource, body []byte) *Response {
	switch req.Method {
	case request.MethodGet, request.MethodHead:
		return fileResponse(res.Path)
	case request.MethodPost:
		return errorResponse(409, errorPageFor(res, 409))
	case request.MethodPut:
		return overwriteFileResponse(res, body)
	case request.MethodDelete:
		return deleteFileResponse(res)
	default:
		return errorResponse(405, errorPageFor(res, 405))
	}
}

func fileResponse(p string) *Response {
	data, err := os.ReadFile(p)
	if err != nil {
		return errorResponse(404, nil)
	}
	return &Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": mimeType(p)},
		Body:    data,
	}
}

func createFileResponse(res *resource.Resource, body []byte, status int) *Response {
	if res.Path == "" {
		return errorResponse(404, errorPageFor(res, 404))
	}
	if err := os.MkdirAll(filepath.Dir(res.Path), 0o755); err != nil {
		return errorResponse(500, nil)
	}
	if err := os.WriteFile(res.Path, body, 0o644); err != nil {
		return errorResponse(500, nil)
	}
	return &Response{Status: status, Headers: map[string]string{}}
}

func overwriteFileResponse(res *resource.Resource, body []byte) *Response {
	if err := os.WriteFile(res.Path, body, 0o644); err != nil {
		return errorResponse(500, nil)
	}
	return &Response{Status: 204, Headers: map[string]string{}}
}

func deleteFileResponse(res *resource.Resource) *Response {
	if err := os.Remove(res.Path); err != nil {
		return errorResponse(500, nil)
	}
	return &Response{Status: 200, Headers: map[string]string{}}
}

func redirectResponse(req *request.Request, res *resource.Resource) *Response {
	status := 302
	switch req.Method {
	case request.MethodPost, request.MethodPut, request.MethodDelete:
		status = 307 // preserve method + body per RFC semantics (spec.md §4.8 last row)
	}
	return &Response{
		Status:  status,
		Headers: map[string]string{"Location": res.Path},
	}
}

func directoryResponse(res *resource.Resource) *Response {
	entries, err := os.ReadDir(res.Path)
	if err != nil {
		return errorResponse(404, errorPageFor(res, 404))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Index of ")
	b.WriteString(html.EscapeString(res.RoutePrefix))
	b.WriteString("</title></head><body><h1>Index of ")
	b.WriteString(html.EscapeString(res.RoutePrefix))
	b.WriteString("</h1><ul>\n")
	for _, name := range names {
		escaped := html.EscapeString(name)
		b.WriteString(fmt.Sprintf("<li><a href=\"%s\">%s</a></li>\n", escaped, escaped))
	}
	b.WriteString("</ul></body></html>")

	return &Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:    []byte(b.String()),
	}
}

// errorPageFor returns res's server block (nil if none), whose
// configured error pages errorResponse consults; code is not used here.
func errorPageFor(res *resource.Resource, code int) *config.ServerBlock {
	if res == nil {
		return nil
	}
	return res.ServerBlock
}

func errorResponse(code int, server *config.ServerBlock) *Response {
	if server != nil {
		if p, ok := server.ErrorPages[code]; ok {
			if data, err := os.ReadFile(p); err == nil {
				return &Response{
					Status:  code,
					Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
					Body:    data,
				}
			}
		}
	}
	return &Response{
		Status:  code,
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:    []byte(defaultErrorStub(code)),
	}
}

func defaultErrorStub(code int) string {
	reason := statusReason(code)
	return fmt.Sprintf("<!DOCTYPE html><html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>", code, reason, code, reason)
}

func addCommonHeaders(resp *Response, keepAlive bool) {
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Server"] = serverSoftware
	resp.Headers["Date"] = time.Now().UTC().Format(http1Date)
	resp.Headers["Content-Length"] = strconv.Itoa(len(resp.Body))
	if _, ok := resp.Headers["Content-Type"]; !ok && len(resp.Body) > 0 {
		resp.Headers["Content-Type"] = "application/octet-stream"
	}
	if keepAlive {
		resp.Headers["Connection"] = "keep-alive"
	} else {
		resp.Headers["Connection"] = "close"
	}
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// StatusLine renders "HTTP/1.1 NNN Reason".
func StatusLine(status int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", status, statusReason(status))
}

func statusReason(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 302:
		return "Found"
	case 307:
		return "Temporary Redirect"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 409:
		return "Conflict"
	case 413:
		return "Payload Too Large"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Unknown"
	}
}

// FromParts builds a Response from raw status/headers/body (used for
// CGI results and other paths that don't go through Build's
// (Method,Kind) table), applying the same common headers Build does.
func FromParts(status int, headers map[string]string, body []byte, keepAlive bool) *Response {
	if headers == nil {
		headers = map[string]string{}
	}
	resp := &Response{Status: status, Headers: headers, Body: body}
	addCommonHeaders(resp, keepAlive)
	return resp
}

// Serialize renders resp as the bytes to send on the wire.
func Serialize(resp *Response) []byte {
	var b strings.Builder
	b.WriteString(StatusLine(resp.Status))
	b.WriteString("\r\n")

	keys := make([]string, 0, len(resp.Headers))
	for k := range resp.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(resp.Headers[k])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(resp.Body))
	out = append(out, []byte(b.String())...)
	out = append(out, resp.Body...)
	return out
}

// mimeTable is keyed by lowercased file extension (including the dot).
// A minimal fixed table (MIME-type file loading is listed as an
// external collaborator in spec.md §1's out-of-scope list); anything
// else falls back to application/octet-stream.
var mimeTable = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".xml":  "application/xml",
}

func mimeType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if mt, ok := mimeTable[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}
