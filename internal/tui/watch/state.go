package watch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/stream"
)

// JobState is the dashboard's view of one render job.
type JobState struct {
	ID            string
	CompositionID string
	Status        string
	Progress      int
	Frame         int
	Total         int
	StartTime     time.Time
	EndTime       time.Time
	OutputPath    string
	Error         string
}

// StreamState is the dashboard's view of one video stream.
type StreamState struct {
	ID            string
	JobID         string
	Status        string
	TotalBytes    int64
	StreamedBytes int64
	StartTime     time.Time
}

// Board folds lifecycle events into job and stream state.
type Board struct {
	Jobs      map[string]*JobState
	Streams   map[string]*StreamState
	LastSweep time.Time
}

func NewBoard() *Board {
	return &Board{
		Jobs:    make(map[string]*JobState),
		Streams: make(map[string]*StreamState),
	}
}

type progressPayload struct {
	JobID    string `json:"job_id"`
	Progress int    `json:"progress"`
	Frame    int    `json:"frame"`
	Total    int    `json:"total"`
}

// Apply updates the board from one event. Unknown or malformed events are
// ignored.
func (b *Board) Apply(e events.Event) {
	switch e.Type {
	case events.RenderStarted, events.RenderCompleted, events.RenderFailed, events.RenderCancelled:
		var job render.Job
		if err := json.Unmarshal(e.Data, &job); err != nil || job.ID == "" {
			return
		}
		js := b.job(job.ID)
		js.CompositionID = job.CompositionID
		js.Status = string(job.Status)
		js.Progress = job.Progress
		js.StartTime = job.StartTime
		js.OutputPath = job.OutputPath
		js.Error = job.Error
		if job.EndTime != nil {
			js.EndTime = *job.EndTime
		}

	case events.RenderProgress:
		var p progressPayload
		if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
			return
		}
		js := b.job(p.JobID)
		if js.Status == "" {
			js.Status = string(render.StatusRunning)
		}
		js.Progress, js.Frame, js.Total = p.Progress, p.Frame, p.Total

	case events.StreamCreated, events.StreamCompleted, events.StreamCancelled:
		var s stream.Stream
		if err := json.Unmarshal(e.Data, &s); err != nil || s.ID == "" {
			return
		}
		st, ok := b.Streams[s.ID]
		if !ok {
			st = &StreamState{ID: s.ID}
			b.Streams[s.ID] = st
		}
		st.JobID = s.JobID
		st.Status = string(s.Status)
		st.TotalBytes = s.TotalBytes
		st.StreamedBytes = s.StreamedBytes
		st.StartTime = s.StartTime

	case events.JanitorSweep:
		b.LastSweep = e.At
	}
}

func (b *Board) job(id string) *JobState {
	js, ok := b.Jobs[id]
	if !ok {
		js = &JobState{ID: id}
		b.Jobs[id] = js
	}
	return js
}

// SortedJobs returns jobs newest first.
func (b *Board) SortedJobs() []*JobState {
	out := make([]*JobState, 0, len(b.Jobs))
	for _, j := range b.Jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].StartTime.Equal(out[k].StartTime) {
			return out[i].StartTime.After(out[k].StartTime)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// SortedStreams returns streams newest first.
func (b *Board) SortedStreams() []*StreamState {
	out := make([]*StreamState, 0, len(b.Streams))
	for _, s := range b.Streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].StartTime.Equal(out[k].StartTime) {
			return out[i].StartTime.After(out[k].StartTime)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// Active counts jobs still pending or running.
func (b *Board) Active() int {
	n := 0
	for _, j := range b.Jobs {
		if !render.Status(j.Status).Terminal() {
			n++
		}
	}
	return n
}
