// Package weblog constructs the single *zap.Logger used across the
// process and threads it into each subsystem as a constructor
// parameter, never as a package-level global (spec.md §9: remove the
// shared-logger global).
package weblog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a development-style logger writing to stderr at the given
// level ("debug", "info", "warn", "error"; default "info" on anything
// else). Grounded on the caddyserver/caddy fastcgi module's use of
// *zap.Logger fields for request/CGI logging — the closest in-pack
// precedent for a CGI-adjacent HTTP server.
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
