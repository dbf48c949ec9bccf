package render

import (
	"errors"
	"maps"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can occur from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Parameters are the resolved render settings for one job.
type Parameters struct {
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	FPS              int            `json:"fps"`
	DurationInFrames int            `json:"durationInFrames"`
	OutputFormat     string         `json:"outputFormat"`
	Quality          int            `json:"quality"`
	Scale            float64        `json:"scale"`
	Concurrency      int            `json:"concurrency"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// Job is one render request's lifecycle record.
type Job struct {
	ID                string     `json:"id"`
	CompositionID     string     `json:"compositionId"`
	Status            Status     `json:"status"`
	Progress          int        `json:"progress"`
	StartTime         time.Time  `json:"startTime"`
	EndTime           *time.Time `json:"endTime,omitempty"`
	OutputPath        string     `json:"outputPath,omitempty"`
	Error             string     `json:"error,omitempty"`
	Parameters        Parameters `json:"parameters"`
	EstimatedDuration *float64   `json:"estimatedDuration,omitempty"`
	ActualDuration    *float64   `json:"actualDuration,omitempty"`
}

// clone returns a deep copy safe to hand to callers outside the registry lock.
func (j *Job) clone() *Job {
	cp := *j
	if j.EndTime != nil {
		t := *j.EndTime
		cp.EndTime = &t
	}
	if j.EstimatedDuration != nil {
		v := *j.EstimatedDuration
		cp.EstimatedDuration = &v
	}
	if j.ActualDuration != nil {
		v := *j.ActualDuration
		cp.ActualDuration = &v
	}
	cp.Parameters.Extra = maps.Clone(j.Parameters.Extra)
	return &cp
}

// finish moves j into a terminal status. Callers must have checked that j is
// not already terminal.
func (j *Job) finish(status Status, at time.Time) {
	j.Status = status
	end := at
	j.EndTime = &end
	d := at.Sub(j.StartTime).Seconds()
	j.ActualDuration = &d
}

var ErrJobNotFound = errors.New("job not found")
