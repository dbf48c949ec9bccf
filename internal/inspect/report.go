// Package inspect builds a post-mortem report for one recorded render job:
// what was asked for, how it ended, and whether its output is still on disk.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/rendergw/internal/catalog"
	"github.com/mattjoyce/rendergw/internal/history"
)

// Source looks up recorded jobs.
type Source interface {
	Get(ctx context.Context, id string) (*history.Entry, error)
}

// Report is the structured JSON representation of a job report.
type Report struct {
	JobID         string         `json:"job_id"`
	CompositionID string         `json:"composition_id"`
	Status        string         `json:"status"`
	Progress      int            `json:"progress"`
	Error         string         `json:"error,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	Estimated     *float64       `json:"estimated_seconds,omitempty"`
	Actual        *float64       `json:"actual_seconds,omitempty"`
	Parameters    map[string]any `json:"parameters"`
	Output        *OutputState   `json:"output,omitempty"`
}

// OutputState describes the job's output file as it is now.
type OutputState struct {
	Path        string    `json:"path"`
	Exists      bool      `json:"exists"`
	Size        int64     `json:"size,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	ModTime     time.Time `json:"mod_time,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
}

// Options control optional work done while gathering a report.
type Options struct {
	Checksum bool
}

// Gather collects the report data for jobID.
func Gather(ctx context.Context, src Source, jobID string, opts Options) (*Report, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	e, err := src.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		JobID:         e.ID,
		CompositionID: e.CompositionID,
		Status:        string(e.Status),
		Progress:      e.Progress,
		Error:         e.Error,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Estimated:     e.EstimatedDuration,
		Actual:        e.ActualDuration,
		Parameters:    parameterMap(e),
	}
	if e.OutputPath != "" {
		out, err := outputState(e.OutputPath, opts.Checksum)
		if err != nil {
			return nil, err
		}
		report.Output = out
	}
	return report, nil
}

// BuildReport renders a terminal-friendly report for a job.
func BuildReport(ctx context.Context, src Source, jobID string, opts Options) (string, error) {
	report, err := Gather(ctx, src, jobID, opts)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Render Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", report.JobID)
	fmt.Fprintf(&out, "Composition : %s\n", report.CompositionID)
	fmt.Fprintf(&out, "Status      : %s (%d%%)\n", report.Status, report.Progress)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartTime.Local().Format(time.RFC3339))
	if report.EndTime != nil {
		fmt.Fprintf(&out, "Finished    : %s\n", report.EndTime.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintf(&out, "Finished    : <never>\n")
	}
	fmt.Fprintf(&out, "Duration    : %s (estimated %s)\n", seconds(report.Actual), seconds(report.Estimated))
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       :\n")
		for _, line := range strings.Split(strings.TrimSpace(report.Error), "\n") {
			fmt.Fprintf(&out, "  %s\n", line)
		}
	}

	fmt.Fprintf(&out, "\nParameters\n")
	keys := make([]string, 0, len(report.Parameters))
	for k := range report.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&out, "  %-16s : %s\n", k, renderValue(report.Parameters[k]))
	}

	fmt.Fprintf(&out, "\nOutput\n")
	switch o := report.Output; {
	case o == nil:
		fmt.Fprintf(&out, "  <none>\n")
	case !o.Exists:
		fmt.Fprintf(&out, "  path     : %s\n", o.Path)
		fmt.Fprintf(&out, "  state    : missing (deleted or cleaned up)\n")
	default:
		fmt.Fprintf(&out, "  path     : %s\n", o.Path)
		fmt.Fprintf(&out, "  size     : %s\n", humanize.IBytes(uint64(o.Size)))
		fmt.Fprintf(&out, "  type     : %s\n", o.ContentType)
		fmt.Fprintf(&out, "  modified : %s\n", humanize.Time(o.ModTime))
		if o.Checksum != "" {
			fmt.Fprintf(&out, "  blake3   : %s\n", o.Checksum)
		}
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, jobID string, opts Options) (string, error) {
	report, err := Gather(ctx, src, jobID, opts)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func outputState(path string, withChecksum bool) (*OutputState, error) {
	out := &OutputState{Path: path}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat output %s: %w", path, err)
	}
	out.Exists = true
	out.Size = info.Size()
	out.ContentType = catalog.ContentType(path)
	out.ModTime = info.ModTime()
	if withChecksum {
		sum, err := catalog.Checksum(path)
		if err != nil {
			return nil, err
		}
		out.Checksum = sum
	}
	return out, nil
}

// parameterMap flattens the resolved parameters so extra input props sit
// next to the built-in ones.
func parameterMap(e *history.Entry) map[string]any {
	p := e.Parameters
	m := map[string]any{
		"width":            p.Width,
		"height":           p.Height,
		"fps":              p.FPS,
		"durationInFrames": p.DurationInFrames,
		"outputFormat":     p.OutputFormat,
		"quality":          p.Quality,
		"scale":            p.Scale,
		"concurrency":      p.Concurrency,
	}
	for k, v := range p.Extra {
		if _, builtin := m[k]; !builtin {
			m[k] = v
		}
	}
	return m
}

func renderValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}

func seconds(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return time.Duration(*v * float64(time.Second)).Round(100 * time.Millisecond).String()
}
