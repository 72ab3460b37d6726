package config

import (
	"sort"

	"gopkg.in/yaml.v2"
)

// dumpRoute and dumpServer are plain-data mirrors of Route/ServerBlock
// used only for the `-dump-config` diagnostics dump: yaml.v2 (the
// teacher's only serialization dependency, used for nginx->struct
// conversion in the teacher's utils/converter.go) would render the
// Routes map in key order rather than config order, and the set-typed
// fields as maps of empty values, so the dump walks RouteOrder and turns
// the small sets into sorted lists for a stable, readable rendering.
type dumpRoute struct {
	Prefix     string   `yaml:"prefix"`
	ServeDir   string   `yaml:"serve_dir,omitempty"`
	RedirectTo string   `yaml:"redirect_to,omitempty"`
	BodySize   uint64   `yaml:"body_size,omitempty"`
	AutoIndex  bool     `yaml:"auto_index"`
	IndexFile  string   `yaml:"index_file,omitempty"`
	CgiExt     []string `yaml:"cgi_extensions,omitempty"`
	Methods    []string `yaml:"methods"`
}

type dumpServer struct {
	Port       int               `yaml:"port"`
	Hostname   string            `yaml:"hostname,omitempty"`
	ErrorPages map[int]string    `yaml:"error_pages,omitempty"`
	Routes     []dumpRoute       `yaml:"routes"`
}

type dumpConfig struct {
	Servers []dumpServer `yaml:"servers"`
}

// Dump renders cfg as YAML for the `-dump-config` CLI flag (spec.md §6
// operator surface, expanded in SPEC_FULL.md §10.5).
func Dump(cfg *Config) ([]byte, error) {
	out := dumpConfig{}
	for _, s := range cfg.Servers {
		ds := dumpServer{
			Port:       s.Port,
			Hostname:   s.Hostname,
			ErrorPages: s.ErrorPages,
		}
		for _, prefix := range s.RouteOrder {
			r := s.Routes[prefix]
			dr := dumpRoute{
				Prefix:     r.Prefix,
				ServeDir:   r.ServeDir,
				RedirectTo: r.RedirectTo,
				BodySize:   r.BodySize,
				AutoIndex:  r.AutoIndex,
				IndexFile:  r.IndexFile,
			}
			for ext := range r.CgiExtensions {
				dr.CgiExt = append(dr.CgiExt, ext)
			}
			sort.Strings(dr.CgiExt)
			for m := range r.MethodsAllowed {
				dr.Methods = append(dr.Methods, string(m))
			}
			sort.Strings(dr.Methods)
			ds.Routes = append(ds.Routes, dr)
		}
		out.Servers = append(out.Servers, ds)
	}
	return yaml.Marshal(out)
}
