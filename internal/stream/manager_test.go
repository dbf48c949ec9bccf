package stream

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func writeVideo(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func assertReason(t *testing.T, err error, kind toolerr.Kind, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, &toolerr.Error{Kind: kind, Reason: reason})
}

func TestCreate(t *testing.T) {
	path, _ := writeVideo(t, "Intro_a.webm", 1000)
	m := NewManager(nil)
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	s, err := m.Create("job-1", path)
	require.NoError(t, err)
	assert.Equal(t, "stream_job-1_1746093600000", s.ID)
	assert.Equal(t, StatusStreaming, s.Status)
	assert.Equal(t, int64(1000), s.TotalBytes)
	assert.Zero(t, s.StreamedBytes)
	assert.Equal(t, "video/webm", s.ContentType)
	assert.Equal(t, path, s.FilePath)

	again, err := m.Create("job-1", path)
	require.NoError(t, err)
	assert.Equal(t, "stream_job-1_1746093600001", again.ID)
}

func TestCreateRejects(t *testing.T) {
	gif, _ := writeVideo(t, "Intro_a.gif", 10)
	m := NewManager(nil)

	_, err := m.Create("j", gif)
	assertReason(t, err, toolerr.KindProcessing, toolerr.ReasonUnsupportedFormat)

	_, err = m.Create("j", filepath.Join(t.TempDir(), "missing.mp4"))
	assertReason(t, err, toolerr.KindProcessing, toolerr.ReasonOutputNotFound)

	empty, _ := writeVideo(t, "Intro_empty.mp4", 0)
	_, err = m.Create("j", empty)
	assertReason(t, err, toolerr.KindProcessing, toolerr.ReasonOutputNotFound)

	assert.Empty(t, m.List())
}

func TestChunkScenario150000(t *testing.T) {
	path, data := writeVideo(t, "Intro_a.mp4", 150000)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)

	first, err := m.Chunk(s.ID, 0)
	require.NoError(t, err)
	assert.Len(t, first.Data, 65536)
	assert.False(t, first.IsLast)
	assert.Equal(t, int64(150000), first.Total)

	var got bytes.Buffer
	got.Write(first.Data)
	offset := int64(first.Size)
	var last *Chunk
	for {
		c, err := m.Chunk(s.ID, offset)
		require.NoError(t, err)
		assert.Len(t, c.Data, int(min(65536, 150000-offset)))
		got.Write(c.Data)
		offset += int64(c.Size)
		if c.IsLast {
			last = c
			break
		}
		info, err := m.Get(s.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusStreaming, info.Status)
	}

	require.NotNil(t, last)
	assert.Equal(t, int64(131072), last.Offset)
	assert.Equal(t, 18928, last.Size)
	assert.Equal(t, 150000, got.Len())
	assert.Equal(t, data, got.Bytes())

	info, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, int64(150000), info.StreamedBytes)
	assert.NotNil(t, info.EndTime)

	_, err = m.Chunk(s.ID, 0)
	assertReason(t, err, toolerr.KindProcessing, toolerr.ReasonStreamNotActive)
}

func TestChunkLengthForEveryRegion(t *testing.T) {
	const total = 200_000
	path, data := writeVideo(t, "Intro_a.mov", total)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)

	for _, offset := range []int64{1, 65535, 65536, 100_000, total - 65536, total - 65535, total - 2} {
		c, err := m.Chunk(s.ID, offset)
		require.NoError(t, err, "offset %d", offset)
		want := min(int64(ChunkSize), total-offset)
		assert.Equal(t, int(want), c.Size, "offset %d", offset)
		assert.Equal(t, data[offset:offset+want], c.Data)
		assert.Equal(t, offset+want == total, c.IsLast)
		if c.IsLast {
			break
		}
	}
}

func TestChunkInvalidOffsetsDoNotMutate(t *testing.T) {
	const total = 200000
	path, _ := writeVideo(t, "Intro_a.mp4", total)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)
	first, err := m.Chunk(s.ID, 0)
	require.NoError(t, err)
	require.False(t, first.IsLast)
	before, _ := m.Get(s.ID)

	for _, offset := range []int64{-1, -65536, total, total + 1, 1 << 40} {
		_, err := m.Chunk(s.ID, offset)
		assertReason(t, err, toolerr.KindProcessing, toolerr.ReasonInvalidOffset)
	}

	after, _ := m.Get(s.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(ChunkSize), after.StreamedBytes)
	assert.Equal(t, StatusStreaming, after.Status)
}

func TestChunkUnknownStream(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Chunk("stream_x_1", 0)
	assertReason(t, err, toolerr.KindNotFound, toolerr.ReasonStreamNotFound)
}

func TestStreamedBytesIsMonotonic(t *testing.T) {
	path, _ := writeVideo(t, "Intro_a.mp4", 300_000)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)

	_, err = m.Chunk(s.ID, 200_000)
	require.NoError(t, err)
	info, _ := m.Get(s.ID)
	assert.Equal(t, int64(265_536), info.StreamedBytes)

	_, err = m.Chunk(s.ID, 0)
	require.NoError(t, err)
	info, _ = m.Get(s.ID)
	assert.Equal(t, int64(265_536), info.StreamedBytes)
}

func TestConcurrentOutOfOrderChunks(t *testing.T) {
	const total = 10 * ChunkSize
	path, _ := writeVideo(t, "Intro_a.mp4", total)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 8; i >= 0; i-- {
		wg.Add(1)
		go func(offset int64) {
			defer wg.Done()
			_, err := m.Chunk(s.ID, offset)
			assert.NoError(t, err)
		}(int64(i * ChunkSize))
	}
	wg.Wait()

	info, _ := m.Get(s.ID)
	assert.Equal(t, int64(9*ChunkSize), info.StreamedBytes)
	assert.Equal(t, StatusStreaming, info.Status)
}

func TestChunkFileShrank(t *testing.T) {
	path, _ := writeVideo(t, "Intro_a.mp4", 1000)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)

	require.NoError(t, os.Truncate(path, 10))
	_, err = m.Chunk(s.ID, 0)
	assertReason(t, err, toolerr.KindSystem, "")

	info, _ := m.Get(s.ID)
	assert.Zero(t, info.StreamedBytes)
	assert.Equal(t, StatusStreaming, info.Status)
}

func TestCancel(t *testing.T) {
	path, _ := writeVideo(t, "Intro_a.mp4", 1000)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)

	assert.True(t, m.Cancel(s.ID))
	assert.False(t, m.Cancel(s.ID))
	assert.False(t, m.Cancel("nope"))

	info, _ := m.Get(s.ID)
	assert.Equal(t, StatusError, info.Status)
	assert.Equal(t, CancelMessage, info.Error)
	assert.NotNil(t, info.EndTime)

	_, err = m.Chunk(s.ID, 0)
	assertReason(t, err, toolerr.KindProcessing, toolerr.ReasonStreamNotActive)
	assert.FileExists(t, path)
}

func TestCancelCompletedStream(t *testing.T) {
	path, _ := writeVideo(t, "Intro_a.mp4", 10)
	m := NewManager(nil)
	s, err := m.Create("j", path)
	require.NoError(t, err)
	c, err := m.Chunk(s.ID, 0)
	require.NoError(t, err)
	require.True(t, c.IsLast)

	assert.False(t, m.Cancel(s.ID))
}

func TestListAndCleanup(t *testing.T) {
	path, _ := writeVideo(t, "Intro_a.mp4", 10)
	m := NewManager(nil)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old, _ := m.Create("a", path)
	m.Cancel(old.ID)
	now = now.Add(time.Minute)
	live, _ := m.Create("b", path)
	now = now.Add(time.Minute)
	done, _ := m.Create("c", path)
	_, err := m.Chunk(done.ID, 0)
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{done.ID, live.ID, old.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	now = now.Add(90 * time.Second)
	assert.Equal(t, 1, m.CleanupCompleted(2*time.Minute))
	_, err = m.Get(old.ID)
	assert.ErrorIs(t, err, ErrStreamNotFound)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.CleanupCompleted(time.Hour))
	assert.Equal(t, map[Status]int{StatusStreaming: 1}, m.Counts())
	assert.FileExists(t, path)
}
