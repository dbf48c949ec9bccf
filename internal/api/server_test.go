package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/stream"
	"github.com/mattjoyce/rendergw/internal/toolerr"
	"github.com/mattjoyce/rendergw/internal/tools"
)

type echoRPC struct {
	got [][]byte
}

func (e *echoRPC) HandleMessage(_ context.Context, data []byte) []byte {
	e.got = append(e.got, data)
	if bytes.Contains(data, []byte(`"notify"`)) {
		return nil
	}
	return []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
}

type stubTools struct {
	lastArgs map[string]any
}

func (s *stubTools) Tools() []tools.Tool {
	return []tools.Tool{
		{Name: "get_render_status", Description: "status", InputSchema: tools.InputSchema{Type: "object", Required: []string{"jobId"}}},
		{Name: "list_render_jobs", Description: "list", InputSchema: tools.InputSchema{Type: "object"}},
	}
}

func (s *stubTools) Call(_ context.Context, name string, args map[string]any) (*tools.Result, error) {
	s.lastArgs = args
	switch name {
	case "get_render_status":
		if _, ok := args["jobId"]; !ok {
			return nil, toolerr.Validation("jobId", "required", `missing required argument "jobId"`)
		}
		return &tools.Result{
			Content:           []tools.Content{{Type: tools.ContentText, Text: "job"}},
			StructuredContent: map[string]any{"success": true},
		}, nil
	case "list_render_jobs":
		return &tools.Result{Content: []tools.Content{{Type: tools.ContentText, Text: "No render jobs."}}}, nil
	default:
		return nil, toolerr.Processingf("tools.call", toolerr.ReasonToolNotFound, "tool %q not found", name)
	}
}

type staticJobs map[render.Status]int

func (s staticJobs) Counts() map[render.Status]int { return s }

type staticStreams map[stream.Status]int

func (s staticStreams) Counts() map[stream.Status]int { return s }

type fixture struct {
	server *Server
	rpc    *echoRPC
	tools  *stubTools
	hub    *events.Hub
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{rpc: &echoRPC{}, tools: &stubTools{}, hub: events.NewHub(16), dir: t.TempDir()}
	f.server = New(Config{FilesDir: f.dir, MaxBodyBytes: 4096, Version: "test"}, f.rpc, f.tools,
		staticJobs{render.StatusRunning: 2, render.StatusCompleted: 1},
		staticStreams{stream.StatusStreaming: 1},
		f.hub, log.Discard())
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, map[string]int{"running": 2, "completed": 1}, resp.Jobs)
	assert.Equal(t, map[string]int{"streaming": 1}, resp.Streams)
}

func TestRPC(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"notify"}`), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Len(t, f.rpc.got, 2)

	rec = f.do(t, http.MethodPost, "/rpc", strings.NewReader(strings.Repeat("x", 5000)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Len(t, f.rpc.got, 2)
}

func TestToolsREST(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/tools", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"get_render_status"`)

	rec = f.do(t, http.MethodPost, "/tools/get_render_status", strings.NewReader(`{"jobId":"abc"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"jobId": "abc"}, f.tools.lastArgs)

	rec = f.do(t, http.MethodPost, "/tools/list_render_jobs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{}, f.tools.lastArgs)

	rec = f.do(t, http.MethodPost, "/tools/get_render_status", strings.NewReader(`{}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "jobId", errResp.Field)
	assert.Equal(t, "required", errResp.Constraint)

	rec = f.do(t, http.MethodPost, "/tools/get_render_status", strings.NewReader(`[1]`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/tools/render_everything", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAPI(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Info    map[string]string         `json:"info"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)
	assert.Equal(t, "test", doc.Info["version"])
	require.Contains(t, doc.Paths, "/tools/get_render_status")
	op := doc.Paths["/tools/get_render_status"]["post"].(map[string]any)
	assert.Equal(t, "get_render_status", op["operationId"])
	assert.Equal(t, true, op["requestBody"].(map[string]any)["required"])
}

func TestFiles(t *testing.T) {
	f := newFixture(t)
	content := bytes.Repeat([]byte("0123456789"), 100)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "Intro_1.mp4"), content, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, ".rendergw.lock"), []byte("1\n"), 0o644))

	rec := f.do(t, http.MethodGet, "/files/Intro_1.mp4", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, content, rec.Body.Bytes())

	rec = f.do(t, http.MethodGet, "/files/Intro_1.mp4", nil, map[string]string{"Range": "bytes=10-19"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 10-19/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, content[10:20], rec.Body.Bytes())

	rec = f.do(t, http.MethodGet, "/files/Intro_1.mp4", nil, map[string]string{"Range": "bytes=-5"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, content[995:], rec.Body.Bytes())

	rec = f.do(t, http.MethodGet, "/files/Intro_1.mp4", nil, map[string]string{"Range": "bytes=1000-"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))

	rec = f.do(t, http.MethodGet, "/files/Intro_1.mp4", nil, map[string]string{"Range": "lines=1-2"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.Bytes(), 1000)

	rec = f.do(t, http.MethodHead, "/files/Intro_1.mp4", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	for _, path := range []string{"/files/missing.mp4", "/files/sub", "/files/..%2Fsecret", "/files/.rendergw.lock"} {
		rec = f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestFilesDisabled(t *testing.T) {
	s := New(Config{}, &echoRPC{}, &stubTools{}, nil, nil, nil, log.Discard())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/a.mp4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type sseEvent struct {
	id, typ, data string
}

func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.id != "" {
				return ev
			}
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			ev.typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsReplayAndLive(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	f.hub.Publish(events.RenderStarted, map[string]string{"job_id": "a"})
	f.hub.Publish(events.StreamCreated, map[string]string{"stream_id": "s"})
	f.hub.Publish(events.RenderCompleted, map[string]string{"job_id": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?prefix=render.", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ev := readSSE(t, r)
	assert.Equal(t, "3", ev.id)
	assert.Equal(t, events.RenderCompleted, ev.typ)
	assert.JSONEq(t, `{"job_id":"a"}`, ev.data)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Publish(events.StreamCompleted, map[string]string{"stream_id": "s"})
	f.hub.Publish(events.RenderFailed, map[string]string{"job_id": "b"})

	ev = readSSE(t, r)
	assert.Equal(t, "5", ev.id)
	assert.Equal(t, events.RenderFailed, ev.typ)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantNil   bool
		wantErr   error
	}{
		{"empty header", "", 1000, 0, 0, true, nil},
		{"full range", "bytes=0-999", 1000, 0, 999, false, nil},
		{"open end", "bytes=500-", 1000, 500, 999, false, nil},
		{"suffix", "bytes=-500", 1000, 500, 999, false, nil},
		{"suffix larger than file", "bytes=-2000", 500, 0, 499, false, nil},
		{"end clamped", "bytes=0-2000", 1000, 0, 999, false, nil},
		{"multi range takes first", "bytes=0-99, 200-299", 1000, 0, 99, false, nil},
		{"start at size", "bytes=1000-", 1000, 0, 0, false, errUnsatisfiable},
		{"start after end", "bytes=20-10", 1000, 0, 0, false, errUnsatisfiable},
		{"suffix of empty file", "bytes=-1", 0, 0, 0, false, errUnsatisfiable},
		{"wrong unit", "chars=0-100", 1000, 0, 0, false, errInvalidRange},
		{"no dash", "bytes=100", 1000, 0, 0, false, errInvalidRange},
		{"bad start", "bytes=abc-100", 1000, 0, 0, false, errInvalidRange},
		{"bad end", "bytes=0-abc", 1000, 0, 0, false, errInvalidRange},
		{"zero suffix", "bytes=-0", 1000, 0, 0, false, errInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRange(tt.header, tt.size)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantStart, got.Start)
			assert.Equal(t, tt.wantEnd, got.End)
		})
	}
}
