// Package janitor periodically sweeps finished jobs, finished streams and,
// when enabled, old rendered files.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/rendergw/internal/config"
	"github.com/mattjoyce/rendergw/internal/events"
)

// Report is the outcome of one sweep.
type Report struct {
	Jobs    int   `json:"jobs"`
	Streams int   `json:"streams"`
	Outputs int   `json:"outputs"`
	Err     error `json:"-"`
}

// Janitor runs sweeps on a fixed interval.
type Janitor struct {
	cfg     config.JanitorConfig
	jobs    MemorySweeper
	streams MemorySweeper
	outputs OutputSweeper
	events  events.Publisher
	logger  *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Janitor. outputs may be nil, in which case files are never
// touched.
func New(cfg config.JanitorConfig, jobs, streams MemorySweeper, outputs OutputSweeper, pub events.Publisher, logger *slog.Logger) *Janitor {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Janitor{
		cfg:     cfg,
		jobs:    jobs,
		streams: streams,
		outputs: outputs,
		events:  pub,
		logger:  logger.With("component", "janitor"),
		stopCh:  make(chan struct{}),
	}
}

// Start sweeps once and then every cfg.Interval until Stop or ctx ends.
func (j *Janitor) Start(ctx context.Context) error {
	if j.cfg.Interval <= 0 {
		return errors.New("janitor interval must be positive")
	}
	j.logger.Info("Starting janitor", "interval", j.cfg.Interval,
		"job_retention", j.cfg.JobRetention, "stream_retention", j.cfg.StreamRetention,
		"output_retention", j.cfg.OutputRetention)

	j.wg.Add(1)
	go j.loop(ctx)
	return nil
}

// Stop halts the loop and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	j.Sweep(ctx)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass. Output files are only deleted when OutputRetention is
// positive.
func (j *Janitor) Sweep(ctx context.Context) Report {
	var rep Report
	if j.jobs != nil {
		rep.Jobs = j.jobs.CleanupCompleted(j.cfg.JobRetention)
	}
	if j.streams != nil {
		rep.Streams = j.streams.CleanupCompleted(j.cfg.StreamRetention)
	}
	if j.outputs != nil && j.cfg.OutputRetention > 0 && ctx.Err() == nil {
		n, err := j.outputs.Cleanup(j.cfg.OutputRetention)
		rep.Outputs = n
		if err != nil {
			rep.Err = err
			j.logger.Error("Failed to clean up outputs", "error", err)
		}
	}

	if rep.Jobs+rep.Streams+rep.Outputs > 0 {
		j.logger.Info("Sweep removed records", "jobs", rep.Jobs, "streams", rep.Streams, "outputs", rep.Outputs)
	} else {
		j.logger.Debug("Sweep found nothing to remove")
	}
	j.events.Publish(events.JanitorSweep, rep)
	return rep
}
