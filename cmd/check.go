package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/health"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
	providerfactory "github.com/mohitmishra786/prompt-craft/internal/provider/factory"
)

const checkUsage = `Usage:
  prompt-craft check [--config <path>] [--timeout <seconds>]

Probes every configured provider with a minimal completion and prints the
result. Exits non-zero when no provider is healthy.`

func check(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, checkUsage)
	}

	var cfgPath string
	var timeoutSeconds int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&timeoutSeconds, "timeout", 30, "probe timeout in seconds")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse check flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := newLogger("error")
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	registry := provider.NewRegistry()
	if err := providerfactory.Build(cfg, registry, logger); err != nil {
		return err
	}

	configured := registry.ConfiguredProviders()
	if len(configured) == 0 {
		return errors.New("no provider is configured; supply API keys via config file or environment")
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	monitor := health.NewMonitor(registry, logger, nil)
	reports := monitor.RunOnce(probeCtx)

	healthy := 0
	for _, report := range reports {
		if !report.Configured {
			fmt.Printf("%-8s %s: not configured\n", report.Type, report.Name)
			continue
		}
		switch report.Status.State {
		case models.HealthHealthy, models.HealthDegraded:
			healthy++
			fmt.Printf("%-8s %s: %s (%s)\n", report.Type, report.Name, report.Status.State, report.Status.Latency.Round(time.Millisecond))
		default:
			fmt.Printf("%-8s %s: %s - %s\n", report.Type, report.Name, report.Status.State, report.Status.Error)
		}
	}

	if healthy == 0 {
		return errors.New("no provider answered its health probe")
	}
	return nil
}
