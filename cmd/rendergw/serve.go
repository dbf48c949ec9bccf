package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/rendergw/internal/api"
	"github.com/mattjoyce/rendergw/internal/janitor"
	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/mcp"
)

// shutdownSlack is added to the worker termination grace when waiting for
// live renders on exit.
const shutdownSlack = 5 * time.Second

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	noStdio := fs.Bool("no-stdio", false, "Do not serve MCP on stdin/stdout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *noStdio && !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "--no-stdio requires api.enabled: true; nothing would be served")
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("rendergw starting", "version", version, "config", cfg.SourcePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Render.TerminationGrace+shutdownSlack)
		defer stop()
		if err := svc.Close(shutdownCtx); err != nil {
			logger.Warn("render workers did not exit in time", "error", err)
		}
		logger.Info("rendergw stopped")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	stdioDone := make(chan struct{})

	rpc := mcp.NewServer(svc.router, mcp.Implementation{Name: cfg.Service.Name, Version: version})

	if !*noStdio {
		go func() {
			defer close(stdioDone)
			if err := rpc.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("stdio: %w", err)
			}
		}()
		logger.Info("MCP stdio transport ready")
	}

	if cfg.API.Enabled {
		apiConfig := api.Config{
			Listen:  cfg.API.Listen,
			Version: version,
		}
		if cfg.API.ServeFiles {
			apiConfig.FilesDir = svc.outputs.Dir()
		}
		apiServer := api.New(apiConfig, rpc, svc.router, svc.jobs, svc.streams, svc.hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen, "serve_files", cfg.API.ServeFiles)
	}

	if cfg.Janitor.Interval > 0 {
		j := janitor.New(cfg.Janitor, svc.jobs, svc.streams, svc.outputs, svc.hub, log.Get())
		if err := j.Start(ctx); err != nil {
			logger.Error("failed to start janitor", "error", err)
			return 1
		}
		defer j.Stop()
	}

	logger.Info("rendergw running", "output_dir", svc.outputs.Dir(), "compositions", svc.comps.Len())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-stdioDone:
		logger.Info("stdin closed, shutting down")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}
	cancel()
	return 0
}
