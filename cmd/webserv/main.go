// Command webserv runs the HTTP/1.1 server described by a config file,
// or the built-in default config when none is given (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/webservgo/webserv/config"
	"github.com/webservgo/webserv/internal/netloop"
	"github.com/webservgo/webserv/internal/weblog"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("webserv", flag.ContinueOnError)
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	dumpConfig := fs.Bool("dump-config", false, "parse and validate the config, print it as YAML to stdout, and exit")
	maxConns := fs.Int("max-conns", 10, "maximum concurrent connections per listener")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger, err := weblog.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webserv: failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	cfg, err := loadConfig(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := config.ValidateTree(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "webserv: invalid config: %v\n", err)
		return 1
	}

	if *dumpConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "webserv: failed to dump config: %v\n", err)
			return 1
		}
		os.Stdout.Write(out)
		return 0
	}

	loop, err := netloop.New(cfg, *maxConns, logger.Named("netloop"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "webserv: bind failure: %v\n", err)
		return 2
	}
	defer loop.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer cancel()

	logger.Info("webserv starting", zap.Int("servers", len(cfg.Servers)), zap.Ints("ports", cfg.Ports()))

	if err := loop.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "webserv: event loop error: %v\n", err)
		return 1
	}

	logger.Info("webserv shut down")
	return 0
}

func loadConfig(positional []string) (*config.Config, error) {
	if len(positional) == 0 {
		return config.DefaultConfig(), nil
	}
	if len(positional) > 1 {
		return nil, fmt.Errorf("webserv: expected at most one config path argument, got %d", len(positional))
	}

	p, err := config.NewParser(positional[0])
	if err != nil {
		return nil, fmt.Errorf("webserv: %v", err)
	}
	cfg, err := p.Parse()
	if err != nil {
		return nil, fmt.Errorf("webserv: %v", err)
	}
	return cfg, nil
}
