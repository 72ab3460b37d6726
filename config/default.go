package config

// DefaultConfig builds the built-in configuration used when no config
// file is given on the command line (spec.md §6): a single server block
// on port 80 serving "./assets/web" at "/", GET only.
//
// original_source/src/config/ServerBlock.cpp's createDefaultServerBlock
// also wires in a pair of built-in error pages (404/502) and defaults
// directory listing on; spec.md §9 is silent on whether the built-in
// default carries error pages at all. Decision (recorded in the ledger):
// carry the 404/502 defaults across since they cost nothing and match
// the original's fallback behavior, but default AutoIndex to false,
// following spec.md's general "explicit opt-in" posture for every other
// route option (methods, body size, cgi) rather than the original's
// permissive default.
func DefaultConfig() *Config {
	route := &Route{
		Prefix:         "/",
		ServeDir:       "./assets/web",
		AutoIndex:      false,
		CgiExtensions:  map[string]struct{}{},
		MethodsAllowed: map[Method]struct{}{MethodGet: {}},
	}
	block := &ServerBlock{
		Port:     80,
		Hostname: "",
		ErrorPages: map[int]string{
			404: "./assets/404.html",
			502: "./assets/502.html",
		},
		Routes:     map[string]*Route{"/": route},
		RouteOrder: []string{"/"},
	}
	return &Config{Servers: []*ServerBlock{block}}
}
