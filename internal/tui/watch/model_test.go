package watch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/stream"
)

func mustEvent(t *testing.T, id int64, typ string, data any) events.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: raw}
}

func TestBoardTracksJobLifecycle(t *testing.T) {
	b := NewBoard()
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	b.Apply(mustEvent(t, 1, events.RenderStarted, &render.Job{
		ID: "job-1", CompositionID: "Intro", Status: render.StatusRunning, StartTime: start,
	}))
	b.Apply(mustEvent(t, 2, events.RenderProgress, map[string]any{
		"job_id": "job-1", "progress": 40, "frame": 60, "total": 150,
	}))

	js := b.Jobs["job-1"]
	require.NotNil(t, js)
	assert.Equal(t, "Intro", js.CompositionID)
	assert.Equal(t, "running", js.Status)
	assert.Equal(t, 40, js.Progress)
	assert.Equal(t, "frame 60/150", jobDetail(js))
	assert.Equal(t, 1, b.Active())

	end := start.Add(5 * time.Second)
	b.Apply(mustEvent(t, 3, events.RenderCompleted, &render.Job{
		ID: "job-1", CompositionID: "Intro", Status: render.StatusCompleted, Progress: 100,
		StartTime: start, EndTime: &end, OutputPath: "/out/Intro.mp4",
	}))
	assert.Equal(t, "completed", js.Status)
	assert.Equal(t, 100, js.Progress)
	assert.Equal(t, "/out/Intro.mp4", jobDetail(js))
	assert.Equal(t, "5s", elapsed(js.StartTime, js.EndTime, time.Now()))
	assert.Zero(t, b.Active())
}

func TestBoardProgressBeforeStart(t *testing.T) {
	b := NewBoard()
	b.Apply(mustEvent(t, 1, events.RenderProgress, map[string]any{"job_id": "j", "progress": 10}))
	assert.Equal(t, "running", b.Jobs["j"].Status)
}

func TestBoardIgnoresMalformedEvents(t *testing.T) {
	b := NewBoard()
	b.Apply(events.Event{Type: events.RenderStarted, Data: json.RawMessage(`not json`)})
	b.Apply(mustEvent(t, 2, events.RenderFailed, map[string]any{"status": "failed"}))
	b.Apply(mustEvent(t, 3, events.StreamCreated, map[string]any{}))
	b.Apply(mustEvent(t, 4, "something.else", map[string]any{"id": "x"}))
	assert.Empty(t, b.Jobs)
	assert.Empty(t, b.Streams)
}

func TestBoardStreamsAndSweep(t *testing.T) {
	b := NewBoard()
	now := time.Now()
	b.Apply(mustEvent(t, 1, events.StreamCreated, &stream.Stream{
		ID: "stream_a_1", JobID: "a", Status: stream.StatusStreaming, TotalBytes: 150000, StartTime: now,
	}))
	b.Apply(mustEvent(t, 2, events.StreamCreated, &stream.Stream{
		ID: "stream_b_2", JobID: "b", Status: stream.StatusStreaming, TotalBytes: 10, StartTime: now.Add(time.Second),
	}))
	b.Apply(mustEvent(t, 3, events.StreamCompleted, &stream.Stream{
		ID: "stream_a_1", JobID: "a", Status: stream.StatusCompleted, TotalBytes: 150000, StreamedBytes: 150000, StartTime: now,
	}))

	sorted := b.SortedStreams()
	require.Len(t, sorted, 2)
	assert.Equal(t, "stream_b_2", sorted[0].ID)
	assert.Equal(t, "completed", sorted[1].Status)
	assert.Equal(t, int64(150000), sorted[1].StreamedBytes)

	sweep := mustEvent(t, 4, events.JanitorSweep, map[string]int{"jobs": 1})
	b.Apply(sweep)
	assert.Equal(t, sweep.At, b.LastSweep)
}

func TestReadEvents(t *testing.T) {
	input := strings.Join([]string{
		"id: 7",
		"event: render.started",
		`data: {"id":"a"}`,
		"",
		": keep-alive",
		"",
		"id: 8",
		"event: render.progress",
		`data: {"job_id":"a","progress":50}`,
		"",
		"id: 9",
		"event: partial",
	}, "\n")

	var got []events.Event
	require.NoError(t, readEvents(strings.NewReader(input), func(e events.Event) { got = append(got, e) }))
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.RenderStarted, got[0].Type)
	assert.JSONEq(t, `{"id":"a"}`, string(got[0].Data))
	assert.Equal(t, int64(8), got[1].ID)
	assert.False(t, got[1].At.IsZero())
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "░░░░░░░░░░", progressBar(0, 10))
	assert.Equal(t, "█████░░░░░", progressBar(50, 10))
	assert.Equal(t, "██████████", progressBar(150, 10))
	assert.Equal(t, "░░░░░░░░░░", progressBar(-5, 10))
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "0", formatCounts(nil))
	assert.Equal(t, "completed=4 running=1", formatCounts(map[string]int{"running": 1, "completed": 4}))
}

func TestModelUpdateAndView(t *testing.T) {
	m := New("http://127.0.0.1:0")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m2 := next.(Model)

	next, cmd := m2.Update(eventMsg(mustEvent(t, 1, events.RenderStarted, &render.Job{
		ID: "0123456789", CompositionID: "Intro", Status: render.StatusRunning, StartTime: time.Now(),
	})))
	m3 := next.(Model)
	assert.NotNil(t, cmd, "model should keep receiving events")
	require.Len(t, m3.eventLog, 1)
	require.Len(t, m3.jobTable.Rows(), 1)
	assert.Equal(t, "01234567", m3.jobTable.Rows()[0][0])

	next, _ = m3.Update(healthMsg{Status: "ok", Version: "v1", Jobs: map[string]int{"running": 1}})
	m4 := next.(Model)
	assert.True(t, m4.health.Connected)

	view := m4.View()
	assert.Contains(t, view, "RENDERGW WATCH")
	assert.Contains(t, view, "Intro")
	assert.Contains(t, view, "render.started")

	next, _ = m4.Update(sseDisconnectedMsg{})
	assert.False(t, next.(Model).health.Connected)

	_, cmd = m4.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
