package e2e

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/rendergw/internal/api"
	"github.com/mattjoyce/rendergw/internal/catalog"
	"github.com/mattjoyce/rendergw/internal/composition"
	"github.com/mattjoyce/rendergw/internal/config"
	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/history"
	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/mcp"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/stream"
	"github.com/mattjoyce/rendergw/internal/tools"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// workerScript stands in for the renderer. It receives
// [compositionId, outputPath, flags...] and behaves per $MODE.
const workerScript = `#!/bin/bash
case "$MODE" in
fail)
  echo "Frame 10/60 (16%)"
  echo "TypeError: cannot read properties of undefined" >&2
  exit 1
  ;;
hang)
  echo "Frame 1/60 (1%)"
  trap 'exit 143' TERM
  sleep 30 &
  wait
  ;;
*)
  printf 'Bundling...\n'
  printf 'Frame 20/60 (33%%)\rFrame 40/60 (66%%)\r'
  echo "Frame 60/60 (100%)"
  printf '0123456789abcdefghij' > "$2"
  echo "Render complete"
  ;;
esac
`

type stack struct {
	cfg     *config.Config
	hub     *events.Hub
	jobs    *render.Registry
	history *history.Store
	baseURL string
}

func newStack(t *testing.T, mode string) *stack {
	t.Helper()
	dir := t.TempDir()
	worker := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(worker, []byte(workerScript), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
output:
  dir: %s
  resource_scheme: rendergw
render:
  worker: %s
  args: []
  termination_grace: 200ms
  env:
    MODE: %q
compositions:
  Intro:
    width: 1280
    height: 720
    fps: 30
    duration_in_frames: 60
`, filepath.Join(dir, "out"), worker, mode)))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config.Validate: %v", err)
	}

	hist, err := history.Open(context.Background(), filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	hub := events.NewHub(256)
	comps := composition.FromConfig(cfg.Compositions)
	jobs := render.NewRegistry(comps, render.NewSupervisor(render.SupervisorConfigFrom(cfg)),
		render.SystemParameters(cfg.Render.Defaults), hub, hist)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobs.Shutdown(ctx)
	})
	outputs := catalog.New(cfg.Output.Dir, jobs)
	streams := stream.NewManager(hub)

	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()
	router := tools.NewRouter(jobs, outputs, streams, tools.Settings{
		ResourceScheme: cfg.Output.ResourceScheme,
		BaseURL:        baseURL + "/files",
	})
	rpc := mcp.NewServer(router, mcp.Implementation{Name: "rendergw", Version: "e2e"})
	apiServer := api.New(api.Config{FilesDir: outputs.Dir(), Version: "e2e"}, rpc, router, jobs, streams, hub, log.Discard())
	srv.Config.Handler = apiServer.Handler()
	srv.Start()
	t.Cleanup(srv.Close)

	return &stack{cfg: cfg, hub: hub, jobs: jobs, history: hist, baseURL: baseURL}
}

// callTool invokes a tool over the REST surface.
func (s *stack) callTool(t *testing.T, name string, args map[string]any) tools.Result {
	t.Helper()
	body, _ := json.Marshal(args)
	resp, err := http.Post(s.baseURL+"/tools/"+name, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /tools/%s: %v", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /tools/%s: %s %s", name, resp.Status, data)
	}
	var res tools.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode %s result: %v", name, err)
	}
	return res
}

// rpcCall sends one JSON-RPC request to /rpc and returns the result member.
func (s *stack) rpcCall(t *testing.T, id int, method string, params any) json.RawMessage {
	t.Helper()
	msg, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	resp, err := http.Post(s.baseURL+"/rpc", "application/json", bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("POST /rpc: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	if out.Error != nil {
		t.Fatalf("%s: rpc error %d %s", method, out.Error.Code, out.Error.Message)
	}
	return out.Result
}

func (s *stack) waitForStatus(t *testing.T, jobID string, want render.Status) *render.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.jobs.Get(jobID)
		if err != nil {
			t.Fatalf("Get(%s): %v", jobID, err)
		}
		if job.Status.Terminal() {
			if job.Status != want {
				t.Fatalf("job %s ended %s (error %q), want %s", jobID, job.Status, job.Error, want)
			}
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func (s *stack) waitForHistory(t *testing.T, jobID string) *history.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e, err := s.history.Get(context.Background(), jobID); err == nil {
			return e
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never recorded in history", jobID)
	return nil
}

func eventTypes(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func TestRenderPipelineOverMCPAndREST(t *testing.T) {
	s := newStack(t, "ok")

	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(s.rpcCall(t, 1, "initialize", map[string]any{"protocolVersion": "2025-06-18"}), &initResult); err != nil {
		t.Fatalf("decode initialize: %v", err)
	}
	if initResult.ServerInfo.Name != "rendergw" {
		t.Fatalf("serverInfo = %+v", initResult)
	}

	// 1. Trigger over MCP.
	var triggered tools.Result
	raw := s.rpcCall(t, 2, "tools/call", map[string]any{
		"name":      "trigger_render",
		"arguments": map[string]any{"compositionId": "Intro", "params": map[string]any{"title": "Launch"}},
	})
	if err := json.Unmarshal(raw, &triggered); err != nil {
		t.Fatalf("decode trigger result: %v", err)
	}
	if !triggered.Success() {
		t.Fatalf("trigger_render failed: %+v", triggered)
	}
	jobID, _ := triggered.StructuredContent["jobId"].(string)
	if jobID == "" {
		t.Fatalf("no jobId in %+v", triggered.StructuredContent)
	}

	// 2. Wait for completion and check status over REST.
	job := s.waitForStatus(t, jobID, render.StatusCompleted)
	if job.Progress != 100 || job.OutputPath == "" {
		t.Fatalf("completed job = %+v", job)
	}
	status := s.callTool(t, "get_render_status", map[string]any{"jobId": jobID})
	var sawLink bool
	for _, c := range status.Content {
		if c.Type == tools.ContentResourceLink && c.URI == "rendergw://"+filepath.Base(job.OutputPath) {
			sawLink = true
		}
	}
	if !sawLink {
		t.Fatalf("get_render_status has no resource link: %+v", status.Content)
	}

	// 3. Output metadata and range download from /files.
	out := s.callTool(t, "get_render_output", map[string]any{"jobId": jobID, "checksum": true})
	fileURL, _ := out.StructuredContent["url"].(string)
	if !strings.HasPrefix(fileURL, s.baseURL+"/files/") {
		t.Fatalf("output url = %q", fileURL)
	}
	req, _ := http.NewRequest(http.MethodGet, fileURL, nil)
	req.Header.Set("Range", "bytes=10-")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", fileURL, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent || string(body) != "abcdefghij" {
		t.Fatalf("range download: %s %q", resp.Status, body)
	}

	// 4. Stream the file back in chunks.
	created := s.callTool(t, "create_video_stream", map[string]any{"jobId": jobID})
	streamID, _ := created.StructuredContent["streamId"].(string)
	if streamID == "" {
		t.Fatalf("create_video_stream: %+v", created)
	}
	chunk := s.callTool(t, "stream_video_chunk", map[string]any{"streamId": streamID, "offset": 0})
	data, err := base64.StdEncoding.DecodeString(chunk.StructuredContent["data"].(string))
	if err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if string(data) != "0123456789abcdefghij" || chunk.StructuredContent["isLast"] != true {
		t.Fatalf("chunk = %+v", chunk.StructuredContent)
	}
	info := s.callTool(t, "get_stream_info", map[string]any{"streamId": streamID})
	streamInfo, _ := info.StructuredContent["stream"].(map[string]any)
	if streamInfo["status"] != string(stream.StatusCompleted) {
		t.Fatalf("stream after last chunk = %+v", streamInfo)
	}

	// 5. Lifecycle events and history.
	types := strings.Join(eventTypes(s.hub.SnapshotSince(0)), ",")
	for _, want := range []string{events.RenderStarted, events.RenderProgress, events.RenderCompleted, events.StreamCreated, events.StreamCompleted} {
		if !strings.Contains(types, want) {
			t.Errorf("missing event %s in %s", want, types)
		}
	}
	entry := s.waitForHistory(t, jobID)
	if entry.Status != render.StatusCompleted || entry.Parameters.Extra["title"] != "Launch" {
		t.Fatalf("history entry = %+v", entry)
	}
}

func TestRenderPipelineWorkerFailure(t *testing.T) {
	s := newStack(t, "fail")

	res := s.callTool(t, "trigger_render", map[string]any{"compositionId": "Intro"})
	jobID, _ := res.StructuredContent["jobId"].(string)
	job := s.waitForStatus(t, jobID, render.StatusFailed)
	if !strings.Contains(job.Error, "TypeError") {
		t.Fatalf("job error = %q, want worker stderr", job.Error)
	}

	out := s.callTool(t, "get_render_output", map[string]any{"jobId": jobID})
	if out.Success() {
		t.Fatalf("get_render_output of failed job succeeded: %+v", out)
	}

	entry := s.waitForHistory(t, jobID)
	if entry.Status != render.StatusFailed {
		t.Fatalf("history status = %s", entry.Status)
	}
}

func TestRenderPipelineCancel(t *testing.T) {
	s := newStack(t, "hang")

	res := s.callTool(t, "trigger_render", map[string]any{"compositionId": "Intro"})
	jobID, _ := res.StructuredContent["jobId"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ := s.jobs.Get(jobID)
		if job.Status == render.StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never started running: %+v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancelled := s.callTool(t, "cancel_render", map[string]any{"jobId": jobID})
	if cancelled.StructuredContent["cancelled"] != true {
		t.Fatalf("cancel_render = %+v", cancelled.StructuredContent)
	}
	s.waitForStatus(t, jobID, render.StatusCancelled)

	again := s.callTool(t, "cancel_render", map[string]any{"jobId": jobID})
	if again.StructuredContent["cancelled"] != false {
		t.Fatalf("second cancel = %+v", again.StructuredContent)
	}
}

func TestRenderPipelineUnknownComposition(t *testing.T) {
	s := newStack(t, "ok")

	res := s.callTool(t, "trigger_render", map[string]any{"compositionId": "Nope"})
	if res.Success() || !res.IsError {
		t.Fatalf("trigger of unknown composition = %+v", res)
	}
	if len(s.jobs.List(0)) != 0 {
		t.Fatal("rejected trigger must not create a job")
	}
}
