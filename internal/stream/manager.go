package stream

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/rendergw/internal/catalog"
	"github.com/mattjoyce/rendergw/internal/events"
	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

// ChunkSize is the fixed upper bound of one chunk.
const ChunkSize = 64 * 1024

// CancelMessage is recorded on streams stopped by the caller.
const CancelMessage = "Stream cancelled by user"

type Status string

const (
	StatusPreparing Status = "preparing"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions can occur from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Stream is a read cursor over a file it does not own.
type Stream struct {
	ID            string     `json:"id"`
	JobID         string     `json:"jobId"`
	FilePath      string     `json:"filePath"`
	Status        Status     `json:"status"`
	TotalBytes    int64      `json:"totalBytes"`
	StreamedBytes int64      `json:"streamedBytes"`
	ContentType   string     `json:"contentType"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (s *Stream) clone() *Stream {
	cp := *s
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	return &cp
}

func (s *Stream) finish(status Status, at time.Time) {
	s.Status = status
	end := at
	s.EndTime = &end
}

// Chunk is one byte range read from a stream's file. It is never stored.
type Chunk struct {
	StreamID string `json:"streamId"`
	Data     []byte `json:"-"`
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Total    int64  `json:"total"`
	IsLast   bool   `json:"isLast"`
}

var ErrStreamNotFound = errors.New("stream not found")

var streamableExts = map[string]bool{".mp4": true, ".webm": true, ".mov": true}

// Manager owns the stream table.
type Manager struct {
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewManager creates a Manager. pub may be nil.
func NewManager(pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		events:  pub,
		logger:  log.WithComponent("streams"),
		now:     time.Now,
		streams: make(map[string]*Stream),
	}
}

// Create opens a stream over filePath, which must be a non-empty regular file
// in a streamable video container.
func (m *Manager) Create(jobID, filePath string) (*Stream, error) {
	const op = "stream.create"

	ext := strings.ToLower(filepath.Ext(filePath))
	if !streamableExts[ext] {
		return nil, toolerr.Processingf(op, toolerr.ReasonUnsupportedFormat,
			"cannot stream %q files; supported: mp4, webm, mov", strings.TrimPrefix(ext, "."))
	}
	info, err := os.Stat(filePath)
	if err != nil || !info.Mode().IsRegular() {
		return nil, toolerr.Processingf(op, toolerr.ReasonOutputNotFound, "file %s is not available", filePath)
	}
	if info.Size() == 0 {
		return nil, toolerr.Processingf(op, toolerr.ReasonOutputNotFound, "file %s is empty", filePath)
	}

	s := &Stream{
		JobID:       jobID,
		FilePath:    filePath,
		Status:      StatusPreparing,
		TotalBytes:  info.Size(),
		ContentType: catalog.ContentType(filePath),
	}

	m.mu.Lock()
	at := m.now()
	s.StartTime = at
	s.ID = m.allocateIDLocked(jobID, at)
	s.Status = StatusStreaming
	m.streams[s.ID] = s
	snapshot := s.clone()
	m.mu.Unlock()

	m.logger.Info("stream created", "stream_id", s.ID, "job_id", jobID, "total_bytes", s.TotalBytes)
	m.events.Publish(events.StreamCreated, snapshot)
	return snapshot, nil
}

// allocateIDLocked returns stream_{jobId}_{unixMillis}, nudging the stamp
// forward when the same job opens two streams within one millisecond.
func (m *Manager) allocateIDLocked(jobID string, at time.Time) string {
	ms := at.UnixMilli()
	for {
		id := fmt.Sprintf("stream_%s_%d", jobID, ms)
		if _, taken := m.streams[id]; !taken {
			return id
		}
		ms++
	}
}

// Chunk reads [offset, offset+min(ChunkSize, total-offset)) from the stream's
// file. Invalid requests leave the stream untouched.
func (m *Manager) Chunk(streamID string, offset int64) (*Chunk, error) {
	const op = "stream.chunk"

	m.mu.Lock()
	s, ok := m.streams[streamID]
	if !ok {
		m.mu.Unlock()
		return nil, toolerr.NotFound(op, toolerr.ReasonStreamNotFound, fmt.Sprintf("stream %q not found", streamID))
	}
	if s.Status != StatusStreaming {
		status := s.Status
		m.mu.Unlock()
		return nil, toolerr.Processingf(op, toolerr.ReasonStreamNotActive, "stream %q is %s", streamID, status)
	}
	total, path := s.TotalBytes, s.FilePath
	m.mu.Unlock()

	if offset < 0 || offset >= total {
		return nil, toolerr.Processingf(op, toolerr.ReasonInvalidOffset,
			"offset %d outside [0, %d)", offset, total)
	}

	size := min(int64(ChunkSize), total-offset)
	data, err := readRange(path, offset, size)
	if err != nil {
		return nil, toolerr.System(op, err)
	}
	isLast := offset+size >= total

	m.mu.Lock()
	var completed *Stream
	// A cancel may have landed while reading; leave that outcome alone.
	if s.Status == StatusStreaming {
		s.StreamedBytes = max(s.StreamedBytes, offset+size)
		if isLast {
			s.finish(StatusCompleted, m.now())
			completed = s.clone()
		}
	}
	m.mu.Unlock()

	if completed != nil {
		m.logger.Info("stream completed", "stream_id", streamID, "streamed_bytes", completed.StreamedBytes)
		m.events.Publish(events.StreamCompleted, completed)
	}

	return &Chunk{
		StreamID: streamID,
		Data:     data,
		Offset:   offset,
		Size:     len(data),
		Total:    total,
		IsLast:   isLast,
	}, nil
}

func readRange(path string, offset, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if int64(n) == size {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s shrank: read %d of %d bytes at offset %d", path, n, size, offset)
	}
	return nil, err
}

// Get returns a copy of the stream, or ErrStreamNotFound.
func (m *Manager) Get(id string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return s.clone(), nil
}

// List returns all streams, newest first.
func (m *Manager) List() []*Stream {
	m.mu.Lock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s.clone())
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b *Stream) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// Cancel stops a live stream. It returns false when the stream is unknown or
// already terminal.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	s, ok := m.streams[id]
	if !ok || s.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	s.Error = CancelMessage
	s.finish(StatusError, m.now())
	snapshot := s.clone()
	m.mu.Unlock()

	m.logger.Info("stream cancelled", "stream_id", id)
	m.events.Publish(events.StreamCancelled, snapshot)
	return true
}

// CleanupCompleted forgets terminal streams that ended before
// now-olderThan. Files are never touched.
func (m *Manager) CleanupCompleted(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.streams)
	maps.DeleteFunc(m.streams, func(_ string, s *Stream) bool {
		return s.Status.Terminal() && s.EndTime != nil && s.EndTime.Before(cutoff)
	})
	removed := before - len(m.streams)
	if removed > 0 {
		m.logger.Info("cleaned up streams", "removed", removed, "older_than", olderThan)
	}
	return removed
}

// Counts returns the number of streams per status.
func (m *Manager) Counts() map[Status]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int)
	for _, s := range m.streams {
		out[s.Status]++
	}
	return out
}
