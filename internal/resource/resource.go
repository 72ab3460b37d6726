// Package resource implements the (host, URL, method) -> resource
// mapping described in spec.md §4.7.
package resource

import (
	"os"
	"path"
	"strings"

	"github.com/webservgo/webserv/config"
	"github.com/webservgo/webserv/internal/request"
)

// Kind is the resolved meaning of a request (spec.md §3 Resource).
type Kind int

const (
	ExistingFile Kind = iota
	Redirection
	ForbiddenMethod
	Directory
	NotFound
	InvalidRequest
	NoMatch
	Cgi
)

func (k Kind) String() string {
	switch k {
	case ExistingFile:
		return "ExistingFile"
	case Redirection:
		return "Redirection"
	case ForbiddenMethod:
		return "ForbiddenMethod"
	case Directory:
		return "Directory"
	case NotFound:
		return "NotFound"
	case InvalidRequest:
		return "InvalidRequest"
	case NoMatch:
		return "NoMatch"
	case Cgi:
		return "Cgi"
	default:
		return "Unknown"
	}
}

// Resource is the resolved meaning of a request: what kind of response
// to build, and a filesystem/redirect path. It carries a RoutePrefix
// (not a pointer chain back into Config) alongside the Route/ServerBlock
// references the current resolution pass produced — spec.md §9 calls for
// avoiding cyclic ownership; since the Config tree is immutable for the
// life of the process, holding direct references here is safe without
// introducing back-pointers from Route/ServerBlock into Resource's
// owner.
type Resource struct {
	Kind         Kind
	Path         string // filesystem path, or redirect target
	ServerBlock  *config.ServerBlock
	Route        *config.Route
	RoutePrefix  string
	ScriptName   string // Cgi only
	PathInfo     string // Cgi only
	QueryString  string // Cgi only
}

// Resolve maps a parsed request to a Resource given the config tree and
// the port the connection was accepted on.
func Resolve(cfg *config.Config, port int, req *request.Request) *Resource {
	if !req.Valid {
		return &Resource{Kind: InvalidRequest}
	}

	server := cfg.MatchServer(port, req.Hostname)
	if server == nil {
		return &Resource{Kind: NoMatch}
	}

	route, prefix := server.MatchRoute(req.RequestURL)
	if route == nil {
		return &Resource{Kind: NoMatch, ServerBlock: server}
	}

	method := config.Method(req.Method)

	if !route.AllowsMethod(method) {
		return &Resource{Kind: ForbiddenMethod, ServerBlock: server, Route: route, RoutePrefix: prefix}
	}

	if route.IsRedirect() {
		rest := req.RequestURL[len(prefix):]
		return &Resource{
			Kind:        Redirection,
			Path:        joinRedirect(route.RedirectTo, rest),
			ServerBlock: server,
			Route:       route,
			RoutePrefix: prefix,
		}
	}

	rest := req.RequestURL[len(prefix):]

	if cgiRes := matchCgi(server, route, prefix, rest, req); cgiRes != nil {
		return cgiRes
	}

	fsPath := joinPath(route.ServeDir, rest)
	return resolveFilesystem(server, route, prefix, fsPath, method)
}

func joinRedirect(target, rest string) string {
	if rest == "" {
		return target
	}
	if strings.HasSuffix(target, "/") && strings.HasPrefix(rest, "/") {
		return target + rest[1:]
	}
	return target + rest
}

func joinPath(dir, rest string) string {
	if rest == "" {
		return dir
	}
	return path.Join(dir, rest)
}

// matchCgi implements spec.md §4.7 step 5: if any configured cgi
// extension appears in the URL followed by end/'/'/'?', the script
// portion is the path up through (and including) the extension.
// Grounded on original_source/src/cgiUtils.cpp getCGIVirtualPath: locate
// the extension's position, split there rather than at the route
// boundary, so PATH_INFO is everything after the script name.
func matchCgi(server *config.ServerBlock, route *config.Route, prefix, rest string, req *request.Request) *Resource {
	if len(route.CgiExtensions) == 0 {
		return nil
	}
	full := req.RequestURL
	for ext := range route.CgiExtensions {
		idx := strings.Index(full, ext)
		if idx < 0 {
			continue
		}
		end := idx + len(ext)
		if end < len(full) {
			next := full[end]
			if next != '/' && next != '?' {
				continue
			}
		}
		scriptName := full[:end]
		pathInfo := full[end:]

		if !strings.HasPrefix(scriptName, prefix) {
			continue
		}
		scriptRest := scriptName[len(prefix):]
		scriptFsPath := joinPath(route.ServeDir, scriptRest)

		info, err := os.Stat(scriptFsPath)
		if err != nil || info.IsDir() {
			return &Resource{Kind: NotFound, ServerBlock: server, Route: route, RoutePrefix: prefix}
		}
		return &Resource{
			Kind:        Cgi,
			Path:        scriptFsPath,
			ServerBlock: server,
			Route:       route,
			RoutePrefix: prefix,
			ScriptName:  scriptName,
			PathInfo:    pathInfo,
			QueryString: req.Query,
		}
	}
	return nil
}

func resolveFilesystem(server *config.ServerBlock, route *config.Route, prefix, fsPath string, method config.Method) *Resource {
	info, err := os.Stat(fsPath)
	base := &Resource{ServerBlock: server, Route: route, RoutePrefix: prefix, Path: fsPath}

	if err == nil && !info.IsDir() {
		base.Kind = ExistingFile
		return base
	}

	if err == nil && info.IsDir() {
		if method != config.MethodGet && method != config.MethodHead {
			base.Kind = ForbiddenMethod
			return base
		}
		if route.IndexFile != "" {
			indexPath := path.Join(fsPath, route.IndexFile)
			if idxInfo, idxErr := os.Stat(indexPath); idxErr == nil && !idxInfo.IsDir() {
				base.Kind = ExistingFile
				base.Path = indexPath
				return base
			}
		}
		if route.AutoIndex {
			base.Kind = Directory
			return base
		}
		base.Kind = NotFound
		return base
	}

	parent := path.Dir(fsPath)
	if parentInfo, parentErr := os.Stat(parent); parentErr == nil && parentInfo.IsDir() {
		base.Kind = NotFound
		return base
	}
	base.Kind = NoMatch
	return base
}

func init() {
	// Wire the request package's hostname fallback to config's real
	// validator (spec.md §9: no global mutable state beyond a
	// constant table — this is a one-time wiring at package init, not
	// a mutable shared global accessed across requests).
	request.SetHostnameValidator(config.ValidHostname)
}
