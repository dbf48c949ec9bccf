package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/rendergw/internal/catalog"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

func (r *Router) registerRenderTools() {
	r.register(Tool{
		Name:        "trigger_render",
		Description: "Start rendering a composition in the background. Returns the job immediately; poll get_render_status for completion.",
		InputSchema: schema([]string{"compositionId"}, map[string]Property{
			"compositionId": {Type: TypeString, Description: "Composition to render"},
			"params":        {Type: TypeObject, Description: "Overrides for width, height, fps, durationInFrames, outputFormat, quality, scale, concurrency, plus custom input props"},
		}),
	}, r.triggerRender)

	r.register(Tool{
		Name:        "get_render_status",
		Description: "Get the status and progress of a render job.",
		InputSchema: schema([]string{"jobId"}, map[string]Property{
			"jobId": {Type: TypeString, Description: "Render job id"},
		}),
	}, r.getRenderStatus)

	r.register(Tool{
		Name:        "list_render_jobs",
		Description: "List render jobs, newest first.",
		InputSchema: schema(nil, map[string]Property{
			"limit": {Type: TypeInteger, Description: "Maximum number of jobs to return"},
		}),
	}, r.listRenderJobs)

	r.register(Tool{
		Name:        "cancel_render",
		Description: "Cancel a pending or running render job.",
		InputSchema: schema([]string{"jobId"}, map[string]Property{
			"jobId": {Type: TypeString, Description: "Render job id"},
		}),
	}, r.cancelRender)

	r.register(Tool{
		Name:        "cleanup_render_jobs",
		Description: "Forget finished render jobs older than the given age. Output files are kept.",
		InputSchema: schema(nil, map[string]Property{
			"olderThanHours": {Type: TypeNumber, Description: "Age threshold in hours (default 24)"},
		}),
	}, r.cleanupRenderJobs)
}

func (r *Router) triggerRender(_ context.Context, args Args) (*Result, error) {
	job, err := r.jobs.Trigger(args.String("compositionId"), args.Object("params"))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Render job %s started for composition %s (%dx%d, %d frames @ %d fps, %s).",
		job.ID, job.CompositionID, job.Parameters.Width, job.Parameters.Height,
		job.Parameters.DurationInFrames, job.Parameters.FPS, job.Parameters.OutputFormat)
	if job.EstimatedDuration != nil {
		fmt.Fprintf(&b, " Estimated duration: %s.", seconds(*job.EstimatedDuration))
	}
	b.WriteString(" Use get_render_status to follow progress.")

	return success(b.String(), map[string]any{"jobId": job.ID, "job": job}), nil
}

func (r *Router) getRenderStatus(_ context.Context, args Args) (*Result, error) {
	const op = "tools.get_render_status"
	id := args.String("jobId")
	job, err := r.jobs.Get(id)
	if errors.Is(err, render.ErrJobNotFound) {
		return nil, toolerr.NotFound(op, toolerr.ReasonJobNotFound, fmt.Sprintf("job %q not found", id))
	}
	if err != nil {
		return nil, toolerr.System(op, err)
	}

	res := success(describeJob(job), map[string]any{"job": job})
	if job.Status == render.StatusCompleted && job.OutputPath != "" {
		res.Content = append(res.Content, r.resourceLink(job.OutputPath, catalog.ContentType(job.OutputPath),
			r.outputDescription(job.OutputPath, -1)))
	}
	return res, nil
}

func (r *Router) listRenderJobs(_ context.Context, args Args) (*Result, error) {
	limit, err := limitArg("tools.list_render_jobs", args)
	if err != nil {
		return nil, err
	}
	jobs := r.jobs.List(limit)

	var b strings.Builder
	if len(jobs) == 0 {
		b.WriteString("No render jobs.")
	} else {
		fmt.Fprintf(&b, "%d render job(s):", len(jobs))
		for _, job := range jobs {
			b.WriteString("\n- ")
			b.WriteString(describeJob(job))
		}
	}
	return success(b.String(), map[string]any{"jobs": jobs, "count": len(jobs)}), nil
}

func (r *Router) cancelRender(_ context.Context, args Args) (*Result, error) {
	id := args.String("jobId")
	cancelled := r.jobs.Cancel(id)
	text := fmt.Sprintf("Render job %s cancelled.", id)
	if !cancelled {
		text = fmt.Sprintf("Render job %s was not cancelled: it is unknown or already finished.", id)
	}
	return success(text, map[string]any{"jobId": id, "cancelled": cancelled}), nil
}

func (r *Router) cleanupRenderJobs(_ context.Context, args Args) (*Result, error) {
	olderThan, err := hoursArg("tools.cleanup_render_jobs", args, r.settings.DefaultJobRetention)
	if err != nil {
		return nil, err
	}
	removed := r.jobs.CleanupCompleted(olderThan)
	return success(
		fmt.Sprintf("Removed %d finished render job(s) older than %s.", removed, olderThan),
		map[string]any{"removed": removed, "olderThanHours": olderThan.Hours()},
	), nil
}

func describeJob(job *render.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", job.ID, job.CompositionID, job.Status)
	switch job.Status {
	case render.StatusPending, render.StatusRunning:
		fmt.Fprintf(&b, " %d%%, started %s", job.Progress, humanize.Time(job.StartTime))
	case render.StatusCompleted:
		fmt.Fprintf(&b, " -> %s", job.OutputPath)
	case render.StatusFailed:
		fmt.Fprintf(&b, ": %s", firstLine(job.Error))
	}
	if job.ActualDuration != nil {
		fmt.Fprintf(&b, " (took %s)", seconds(*job.ActualDuration))
	}
	return b.String()
}

func seconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(100 * time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
