package janitor

import "time"

//go:generate mockgen -destination=mocks/mock_sweepers.go -package=mocks github.com/mattjoyce/rendergw/internal/janitor MemorySweeper,OutputSweeper

// MemorySweeper forgets finished in-memory records older than a cutoff. Both
// the job registry and the stream manager satisfy it.
type MemorySweeper interface {
	CleanupCompleted(olderThan time.Duration) int
}

// OutputSweeper deletes rendered files older than a cutoff.
type OutputSweeper interface {
	Cleanup(olderThan time.Duration) (int, error)
}
