package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/gateway"
	"github.com/mohitmishra786/prompt-craft/internal/health"
	"github.com/mohitmishra786/prompt-craft/internal/metrics"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
	providerfactory "github.com/mohitmishra786/prompt-craft/internal/provider/factory"
	"github.com/mohitmishra786/prompt-craft/internal/server"
)

const serveUsage = `Usage:
  prompt-craft serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (credentials may also
                    come from GROQ_API_KEY, OPENAI_API_KEY,
                    AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	registry := provider.NewRegistry()
	if err := providerfactory.Build(cfg, registry, logger); err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	gw := gateway.New(registry, logger, m)
	monitor := health.NewMonitor(registry, logger, m)

	srv, err := server.New(cfg, cfgPath, gw, monitor, logger, promRegistry)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
