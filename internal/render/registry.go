package render

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/rendergw/internal/composition"
	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

// Recorder receives a copy of every job that reaches a terminal state.
type Recorder interface {
	Record(ctx context.Context, job *Job) error
}

// Registry owns job records and the process-handle table for live workers.
//
// Every terminal transition is guarded by a check of the current status under
// the lock, so whichever of cancel or worker exit arrives second is a no-op.
type Registry struct {
	compositions composition.Lookup
	runner       Runner
	defaults     Parameters
	events       events.Publisher
	history      Recorder
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string

	mu     sync.Mutex
	jobs   map[string]*Job
	procs  map[string]Handle
	closed bool

	wg sync.WaitGroup
}

// NewRegistry creates a Registry. pub and rec may be nil.
func NewRegistry(comps composition.Lookup, runner Runner, defaults Parameters, pub events.Publisher, rec Recorder) *Registry {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Registry{
		compositions: comps,
		runner:       runner,
		defaults:     defaults,
		events:       pub,
		history:      rec,
		logger:       log.WithComponent("registry"),
		now:          time.Now,
		newID:        uuid.NewString,
		jobs:         make(map[string]*Job),
		procs:        make(map[string]Handle),
	}
}

// Trigger validates the composition, stores a pending job, and hands it to the
// runner in the background. It returns without waiting for the render.
func (r *Registry) Trigger(compositionID string, userParams map[string]any) (*Job, error) {
	const op = "render.trigger"

	if compositionID == "" || !r.compositions.Exists(compositionID) {
		return nil, toolerr.Processingf(op, toolerr.ReasonCompositionNotFound,
			"composition %q not found", compositionID)
	}
	info, _ := r.compositions.Info(compositionID)

	params, err := MergeParameters(r.defaults, info, userParams)
	if err != nil {
		return nil, err
	}
	estimate := EstimateDuration(params)

	job := &Job{
		ID:                r.newID(),
		CompositionID:     compositionID,
		Status:            StatusPending,
		StartTime:         r.now(),
		Parameters:        params,
		EstimatedDuration: &estimate,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, toolerr.Processing(op, toolerr.ReasonShuttingDown, "registry is shutting down")
	}
	r.jobs[job.ID] = job
	snapshot := job.clone()
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("render job accepted", "job_id", job.ID, "composition_id", compositionID,
		"estimated_seconds", estimate)

	spec := RunSpec{JobID: job.ID, CompositionID: compositionID, Parameters: params}
	go func() {
		defer r.wg.Done()
		r.runner.Run(spec, jobReporter{r})
	}()

	return snapshot, nil
}

// Get returns a copy of the job, or ErrJobNotFound.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

// List returns jobs newest first. limit <= 0 means all.
func (r *Registry) List(limit int) []*Job {
	r.mu.Lock()
	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.clone())
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b *Job) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cancel moves a live job to cancelled and signals its worker. It returns
// false when the job is unknown or already terminal.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	job.finish(StatusCancelled, r.now())
	h := r.procs[id]
	delete(r.procs, id)
	snapshot := job.clone()
	r.mu.Unlock()

	if h != nil {
		h.Terminate()
	}
	r.logger.Info("render job cancelled", "job_id", id, "had_process", h != nil)
	r.resolved(snapshot)
	return true
}

// CleanupCompleted forgets terminal jobs that ended before now-olderThan.
// It never touches files.
func (r *Registry) CleanupCompleted(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.EndTime != nil && job.EndTime.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("cleaned up render jobs", "removed", removed, "older_than", olderThan)
	}
	return removed
}

// Counts returns the number of jobs per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Status]int)
	for _, job := range r.jobs {
		out[job.Status]++
	}
	return out
}

// Shutdown refuses new jobs, cancels live ones, and waits for their workers to
// exit or ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var live []string
	for id, job := range r.jobs {
		if !job.Status.Terminal() {
			live = append(live, id)
		}
	}
	r.mu.Unlock()

	for _, id := range live {
		r.Cancel(id)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for render workers: %w", ctx.Err())
	}
}

// resolved publishes and records a job that just became terminal.
func (r *Registry) resolved(job *Job) {
	eventType := events.RenderCompleted
	switch job.Status {
	case StatusFailed:
		eventType = events.RenderFailed
	case StatusCancelled:
		eventType = events.RenderCancelled
	}
	r.events.Publish(eventType, job)

	if r.history == nil {
		return
	}
	if err := r.history.Record(context.Background(), job); err != nil {
		r.logger.Warn("failed to record job history", "job_id", job.ID, "error", err)
	}
}

// jobReporter adapts worker callbacks onto the registry.
type jobReporter struct {
	r *Registry
}

func (jr jobReporter) Attach(jobID string, h Handle) bool {
	r := jr.r
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	if _, exists := r.procs[jobID]; exists {
		r.mu.Unlock()
		r.logger.Error("refusing second process for job", "job_id", jobID)
		return false
	}
	r.procs[jobID] = h
	job.Status = StatusRunning
	snapshot := job.clone()
	r.mu.Unlock()

	r.events.Publish(events.RenderStarted, snapshot)
	return true
}

func (jr jobReporter) Progress(jobID string, u ProgressUpdate) {
	r := jr.r
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status.Terminal() || job.Progress == u.Percent {
		r.mu.Unlock()
		return
	}
	job.Progress = u.Percent
	r.mu.Unlock()

	r.events.Publish(events.RenderProgress, map[string]any{
		"job_id":   jobID,
		"progress": u.Percent,
		"frame":    u.Frame,
		"total":    u.Total,
	})
}

func (jr jobReporter) Exit(jobID string, res Result) {
	r := jr.r
	r.mu.Lock()
	delete(r.procs, jobID)
	job, ok := r.jobs[jobID]
	if !ok || job.Status.Terminal() {
		r.mu.Unlock()
		r.logger.Debug("ignoring exit for resolved job", "job_id", jobID)
		return
	}

	if res.Err == nil {
		job.Progress = 100
		job.OutputPath = res.OutputPath
		job.finish(StatusCompleted, r.now())
	} else {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = res.Err.Error()
		}
		job.Error = msg
		job.finish(StatusFailed, r.now())
	}
	snapshot := job.clone()
	r.mu.Unlock()

	r.logger.Info("render job finished", "job_id", jobID, "status", snapshot.Status,
		"duration_seconds", *snapshot.ActualDuration)
	r.resolved(snapshot)
}
