package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/rendergw/internal/catalog"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

func (r *Router) registerOutputTools() {
	r.register(Tool{
		Name:        "get_render_output",
		Description: "Get the rendered file of a completed job, with a link to fetch it.",
		InputSchema: schema([]string{"jobId"}, map[string]Property{
			"jobId":    {Type: TypeString, Description: "Render job id"},
			"checksum": {Type: TypeBoolean, Description: "Also compute a BLAKE3 checksum of the file"},
		}),
	}, r.getRenderOutput)

	r.register(Tool{
		Name:        "list_render_outputs",
		Description: "List rendered files from tracked jobs and the output directory, newest first.",
		InputSchema: schema(nil, map[string]Property{
			"limit": {Type: TypeInteger, Description: "Maximum number of files to return"},
		}),
	}, r.listRenderOutputs)

	r.register(Tool{
		Name:        "delete_render_output",
		Description: "Delete a rendered file by job id or by path inside the output directory.",
		InputSchema: schema(nil, map[string]Property{
			"jobId": {Type: TypeString, Description: "Job whose output should be deleted"},
			"path":  {Type: TypeString, Description: "File to delete; takes precedence over jobId"},
		}),
	}, r.deleteRenderOutput)

	r.register(Tool{
		Name:        "cleanup_render_outputs",
		Description: "Delete every file in the output directory older than the given age, whether or not a job still references it.",
		InputSchema: schema([]string{"olderThanHours"}, map[string]Property{
			"olderThanHours": {Type: TypeNumber, Description: "Age threshold in hours"},
		}),
	}, r.cleanupRenderOutputs)
}

func (r *Router) getRenderOutput(_ context.Context, args Args) (*Result, error) {
	out, err := r.outputs.Get(args.String("jobId"), args.Bool("checksum"))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Output for job %s: %s (%s, %s, rendered %s).", out.JobID, out.Filename,
		humanize.IBytes(uint64(out.Size)), out.ContentType, humanize.Time(out.CreatedAt))
	if u := r.fileURL(out.Path); u != "" {
		fmt.Fprintf(&b, "\nURL: %s", u)
	}
	if out.Checksum != "" {
		fmt.Fprintf(&b, "\nBLAKE3: %s", out.Checksum)
	}

	data := map[string]any{"output": out}
	if u := r.fileURL(out.Path); u != "" {
		data["url"] = u
	}
	return success(b.String(), data, r.resourceLink(out.Path, out.ContentType, r.outputDescription(out.Path, out.Size))), nil
}

func (r *Router) listRenderOutputs(_ context.Context, args Args) (*Result, error) {
	limit, err := limitArg("tools.list_render_outputs", args)
	if err != nil {
		return nil, err
	}
	outputs, err := r.outputs.List(limit)
	if err != nil {
		return nil, err
	}
	if outputs == nil {
		outputs = []catalog.Output{}
	}

	var b strings.Builder
	links := make([]Content, 0, len(outputs))
	if len(outputs) == 0 {
		b.WriteString("No rendered outputs.")
	} else {
		fmt.Fprintf(&b, "%d rendered output(s):", len(outputs))
		for _, o := range outputs {
			fmt.Fprintf(&b, "\n- %s (%s, %s)", o.Filename, humanize.IBytes(uint64(o.Size)), humanize.Time(o.CreatedAt))
			if o.JobID != "" {
				fmt.Fprintf(&b, " job %s", o.JobID)
			}
			links = append(links, r.resourceLink(o.Path, o.ContentType, r.outputDescription(o.Path, o.Size)))
		}
	}
	return success(b.String(), map[string]any{"outputs": outputs, "count": len(outputs)}, links...), nil
}

func (r *Router) deleteRenderOutput(_ context.Context, args Args) (*Result, error) {
	jobID, path := args.String("jobId"), args.String("path")
	if jobID == "" && path == "" {
		return nil, toolerr.Processing("tools.delete_render_output", toolerr.ReasonInvalidParameters,
			"either jobId or path is required")
	}
	deleted := r.outputs.Delete(jobID, path)

	target := path
	if target == "" {
		target = "output of job " + jobID
	}
	text := fmt.Sprintf("Deleted %s.", target)
	if !deleted {
		text = fmt.Sprintf("Could not delete %s: not found or not removable.", target)
	}
	return success(text, map[string]any{"deleted": deleted}), nil
}

func (r *Router) cleanupRenderOutputs(_ context.Context, args Args) (*Result, error) {
	olderThan, err := hoursArg("tools.cleanup_render_outputs", args, 0)
	if err != nil {
		return nil, err
	}
	removed, err := r.outputs.Cleanup(olderThan)
	if err != nil {
		return nil, err
	}
	return success(
		fmt.Sprintf("Deleted %d output file(s) older than %s.", removed, olderThan),
		map[string]any{"removed": removed, "olderThanHours": olderThan.Hours()},
	), nil
}

// outputDescription is the resource link description. size < 0 omits it.
func (r *Router) outputDescription(path string, size int64) string {
	parts := []string{"Rendered " + catalog.ContentType(path)}
	if size >= 0 {
		parts = append(parts, humanize.IBytes(uint64(size)))
	}
	if u := r.fileURL(path); u != "" {
		parts = append(parts, u)
	}
	return strings.Join(parts, ", ")
}
