package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/rendergw/internal/catalog"
	"github.com/mattjoyce/rendergw/internal/composition"
	"github.com/mattjoyce/rendergw/internal/config"
	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/history"
	"github.com/mattjoyce/rendergw/internal/lock"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/storage"
	"github.com/mattjoyce/rendergw/internal/stream"
	"github.com/mattjoyce/rendergw/internal/tools"
)

const eventBufferSize = 256

// services is the wired gateway core shared by serve and in-process call.
type services struct {
	cfg     *config.Config
	hub     *events.Hub
	comps   *composition.Registry
	jobs    *render.Registry
	outputs *catalog.Catalog
	streams *stream.Manager
	router  *tools.Router
	history *history.Store
	dirLock *lock.DirLock
}

// newServices locks the output directory and builds every component over it.
func newServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	if err := storage.CheckLocalFilesystem(cfg.Output.Dir, "output.dir"); err != nil {
		return nil, err
	}
	dirLock, err := lock.Acquire(cfg.Output.Dir)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("another rendergw owns the output directory: %w", err)
		}
		return nil, err
	}
	logger.Info("acquired output directory lock", "path", dirLock.Path())

	s := &services{cfg: cfg, dirLock: dirLock, hub: events.NewHub(eventBufferSize)}

	s.comps = composition.FromConfig(cfg.Compositions)
	if err := composition.Discover(s.comps, cfg.CompositionsDir, logFunc(logger)); err != nil {
		s.release()
		return nil, fmt.Errorf("composition discovery failed: %w", err)
	}
	logger.Info("composition discovery complete", "count", s.comps.Len())

	var rec render.Recorder
	if cfg.History.Path != "" {
		s.history, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			s.release()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		rec = s.history
		logger.Info("history enabled", "path", cfg.History.Path)
	}

	supervisor := render.NewSupervisor(render.SupervisorConfigFrom(cfg))
	s.jobs = render.NewRegistry(s.comps, supervisor, render.SystemParameters(cfg.Render.Defaults), s.hub, rec)
	s.outputs = catalog.New(cfg.Output.Dir, s.jobs)
	s.streams = stream.NewManager(s.hub)

	s.router = tools.NewRouter(s.jobs, s.outputs, s.streams, tools.Settings{
		ResourceScheme:         cfg.Output.ResourceScheme,
		BaseURL:                cfg.Output.BaseURL,
		DefaultJobRetention:    cfg.Janitor.JobRetention,
		DefaultStreamRetention: cfg.Janitor.StreamRetention,
	})
	return s, nil
}

// Close cancels live renders, waits for their workers, and releases the
// history database and directory lock.
func (s *services) Close(ctx context.Context) error {
	err := s.jobs.Shutdown(ctx)
	s.release()
	return err
}

func (s *services) release() {
	if s.history != nil {
		_ = s.history.Close()
	}
	if s.dirLock != nil {
		_ = s.dirLock.Release()
	}
}

// logFunc adapts logger to the level-string callback used by discovery.
func logFunc(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		default:
			logger.Info(msg, args...)
		}
	}
}
