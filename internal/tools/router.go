// Package tools is the single dispatch boundary between protocol transports and
// the render, output, and stream services.
//
// Call validates a tool's arguments before dispatch and returns those failures
// as errors. Everything that goes wrong inside a tool is folded into a
// success:false Result instead.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/rendergw/internal/catalog"
	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/stream"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

// JobService is the job registry as seen by the router.
type JobService interface {
	Trigger(compositionID string, params map[string]any) (*render.Job, error)
	Get(id string) (*render.Job, error)
	List(limit int) []*render.Job
	Cancel(id string) bool
	CleanupCompleted(olderThan time.Duration) int
}

// OutputService is the output catalog as seen by the router.
type OutputService interface {
	Get(jobID string, withChecksum bool) (*catalog.Output, error)
	List(limit int) ([]catalog.Output, error)
	Delete(jobID, path string) bool
	Cleanup(olderThan time.Duration) (int, error)
}

// StreamService is the stream manager as seen by the router.
type StreamService interface {
	Create(jobID, filePath string) (*stream.Stream, error)
	Chunk(streamID string, offset int64) (*stream.Chunk, error)
	Get(id string) (*stream.Stream, error)
	List() []*stream.Stream
	Cancel(id string) bool
	CleanupCompleted(olderThan time.Duration) int
}

// Settings controls how file results are linked.
type Settings struct {
	// ResourceScheme prefixes resource_link URIs: scheme://filename.
	ResourceScheme string
	// BaseURL is where the output directory is served over HTTP.
	BaseURL string
	// DefaultJobRetention applies when cleanup_render_jobs omits olderThanHours.
	DefaultJobRetention time.Duration
	// DefaultStreamRetention applies when cleanup_video_streams omits olderThanHours.
	DefaultStreamRetention time.Duration
}

// Content block types.
const (
	ContentText         = "text"
	ContentResourceLink = "resource_link"
)

// Content is one block of a tool response.
type Content struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// Result is the uniform tool response envelope.
type Result struct {
	Content           []Content      `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// Success reports the structured success flag.
func (r *Result) Success() bool {
	ok, _ := r.StructuredContent["success"].(bool)
	return ok
}

type handlerFunc func(ctx context.Context, args Args) (*Result, error)

type entry struct {
	tool    Tool
	handler handlerFunc
}

// Router owns the static tool table.
type Router struct {
	jobs     JobService
	outputs  OutputService
	streams  StreamService
	settings Settings
	logger   *slog.Logger

	order []string
	table map[string]entry
}

// NewRouter builds the tool table over the given services.
func NewRouter(jobs JobService, outputs OutputService, streams StreamService, settings Settings) *Router {
	if settings.ResourceScheme == "" {
		settings.ResourceScheme = "remotion-output"
	}
	if settings.DefaultJobRetention <= 0 {
		settings.DefaultJobRetention = 24 * time.Hour
	}
	if settings.DefaultStreamRetention <= 0 {
		settings.DefaultStreamRetention = time.Hour
	}
	r := &Router{
		jobs:     jobs,
		outputs:  outputs,
		streams:  streams,
		settings: settings,
		logger:   log.WithComponent("tools"),
		table:    make(map[string]entry),
	}
	r.registerRenderTools()
	r.registerOutputTools()
	r.registerStreamTools()
	return r
}

func (r *Router) register(tool Tool, h handlerFunc) {
	if _, dup := r.table[tool.Name]; dup {
		panic(fmt.Sprintf("tools: duplicate tool %q", tool.Name))
	}
	r.order = append(r.order, tool.Name)
	r.table[tool.Name] = entry{tool: tool, handler: h}
}

// Tools lists the declared tools in registration order.
func (r *Router) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.table[name].tool)
	}
	return out
}

// Call dispatches one tool invocation. Unknown tools and argument validation
// failures are returned as errors; any failure inside the tool becomes a
// success:false Result.
func (r *Router) Call(ctx context.Context, name string, args map[string]any) (res *Result, err error) {
	e, ok := r.table[name]
	if !ok {
		return nil, toolerr.Processingf("tools.call", toolerr.ReasonToolNotFound, "tool %q not found", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.tool.InputSchema.Validate(args); err != nil {
		r.logger.Debug("tool arguments rejected", "tool", name, "error", err)
		return nil, err
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			res, err = errorResult(toolerr.System("tools."+name, fmt.Errorf("panic: %v", p))), nil
		}
	}()

	res, herr := e.handler(ctx, Args(args))
	if herr != nil {
		r.logger.Info("tool failed", "tool", name, "kind", toolerr.KindOf(herr), "error", herr,
			"duration", time.Since(start))
		return errorResult(herr), nil
	}
	r.logger.Debug("tool succeeded", "tool", name, "duration", time.Since(start))
	return res, nil
}

func success(text string, data map[string]any, links ...Content) *Result {
	structured := map[string]any{"success": true}
	for k, v := range data {
		structured[k] = v
	}
	content := append([]Content{{Type: ContentText, Text: text}}, links...)
	return &Result{Content: content, StructuredContent: structured}
}

// errorResult folds an in-operation failure into the envelope. Soft not-found
// outcomes are not flagged as tool errors.
func errorResult(err error) *Result {
	te, ok := toolerr.As(err)
	if !ok {
		te = toolerr.System("", err)
	}
	detail := map[string]any{
		"kind":    te.Kind,
		"message": te.Message,
	}
	if te.Op != "" {
		detail["operation"] = te.Op
	}
	if te.Reason != "" {
		detail["reason"] = te.Reason
	}
	if te.Err != nil {
		detail["detail"] = te.Err.Error()
	}

	msg := te.Message
	if te.Kind == toolerr.KindSystem && te.Err != nil {
		msg = te.Err.Error()
	}
	return &Result{
		Content:           []Content{{Type: ContentText, Text: "Error: " + msg}},
		StructuredContent: map[string]any{"success": false, "error": detail},
		IsError:           te.Kind != toolerr.KindNotFound,
	}
}

func (r *Router) resourceLink(path, contentType, description string) Content {
	name := filepath.Base(path)
	return Content{
		Type:        ContentResourceLink,
		URI:         r.settings.ResourceScheme + "://" + name,
		Name:        name,
		MimeType:    contentType,
		Description: description,
	}
}

// fileURL is the human-facing HTTP location of an output, or "" when no base
// URL is configured.
func (r *Router) fileURL(path string) string {
	if r.settings.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(r.settings.BaseURL, "/") + "/" + url.PathEscape(filepath.Base(path))
}

// hoursArg converts an olderThanHours argument to a duration.
func hoursArg(op string, args Args, fallback time.Duration) (time.Duration, error) {
	h, ok := args.Float("olderThanHours")
	if !ok {
		return fallback, nil
	}
	if h < 0 {
		return 0, toolerr.Processing(op, toolerr.ReasonInvalidParameters, "olderThanHours must not be negative")
	}
	return time.Duration(h * float64(time.Hour)), nil
}

// limitArg reads an optional positive limit; 0 means unlimited.
func limitArg(op string, args Args) (int, error) {
	n, ok := args.Int("limit")
	if !ok {
		return 0, nil
	}
	if n < 1 {
		return 0, toolerr.Processing(op, toolerr.ReasonInvalidParameters, "limit must be at least 1")
	}
	return int(n), nil
}
