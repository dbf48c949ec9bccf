// Package catalog reconciles completed render jobs with the files actually
// present in the output directory.
//
// Jobs live only in memory while files persist across restarts, so every view
// is rebuilt on demand from both sources and de-duplicated by absolute path.
package catalog

import (
	"cmp"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

// JobSource is the subset of the job registry the catalog reads.
type JobSource interface {
	Get(id string) (*render.Job, error)
	List(limit int) []*render.Job
}

// Output describes one rendered file. It is derived, never stored.
type Output struct {
	JobID       string    `json:"jobId,omitempty"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
	Checksum    string    `json:"checksum,omitempty"`
}

// Catalog is a view over the output directory and the job registry.
type Catalog struct {
	dir    string
	jobs   JobSource
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Catalog rooted at dir.
func New(dir string, jobs JobSource) *Catalog {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &Catalog{
		dir:    dir,
		jobs:   jobs,
		logger: log.WithComponent("catalog"),
		now:    time.Now,
	}
}

// Dir returns the absolute output directory.
func (c *Catalog) Dir() string {
	return c.dir
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".gif":  "image/gif",
}

// ContentType maps a file extension to its MIME type.
func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Get returns metadata for a completed job's output. A missing job, an
// unfinished job, or a vanished file is reported as a NotFound error.
func (c *Catalog) Get(jobID string, withChecksum bool) (*Output, error) {
	const op = "catalog.get"

	job, err := c.jobs.Get(jobID)
	if err != nil {
		return nil, toolerr.NotFound(op, toolerr.ReasonJobNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	if job.Status != render.StatusCompleted || job.OutputPath == "" {
		return nil, toolerr.NotFound(op, toolerr.ReasonJobNotCompleted,
			fmt.Sprintf("job %q is %s", jobID, job.Status))
	}

	out, err := describe(job.OutputPath)
	if err != nil {
		return nil, toolerr.NotFound(op, toolerr.ReasonOutputNotFound,
			fmt.Sprintf("output for job %q is no longer available", jobID))
	}
	out.JobID = job.ID

	if withChecksum {
		sum, err := Checksum(out.Path)
		if err != nil {
			return nil, toolerr.System(op, err)
		}
		out.Checksum = sum
	}
	return out, nil
}

// List merges completed jobs' outputs with a directory scan, newest first.
// limit <= 0 means all.
func (c *Catalog) List(limit int) ([]Output, error) {
	seen := make(map[string]struct{})
	var outputs []Output

	for _, job := range c.jobs.List(0) {
		if job.Status != render.StatusCompleted || job.OutputPath == "" {
			continue
		}
		out, err := describe(job.OutputPath)
		if err != nil {
			continue
		}
		if _, dup := seen[out.Path]; dup {
			continue
		}
		seen[out.Path] = struct{}{}
		out.JobID = job.ID
		outputs = append(outputs, *out)
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, toolerr.System("catalog.list", err)
	}
	for _, entry := range entries {
		if !isOutputEntry(entry) {
			continue
		}
		out, err := describe(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		if _, dup := seen[out.Path]; dup {
			continue
		}
		seen[out.Path] = struct{}{}
		outputs = append(outputs, *out)
	}

	slices.SortFunc(outputs, func(a, b Output) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	if limit > 0 && len(outputs) > limit {
		outputs = outputs[:limit]
	}
	return outputs, nil
}

// Resolve maps an explicit path or a job id onto the file it names. Relative
// paths are taken inside the output directory; nothing outside it resolves.
func (c *Catalog) Resolve(jobID, path string) (string, bool) {
	if path == "" {
		if jobID == "" {
			return "", false
		}
		job, err := c.jobs.Get(jobID)
		if err != nil || job.OutputPath == "" {
			return "", false
		}
		abs, err := filepath.Abs(job.OutputPath)
		if err != nil {
			return "", false
		}
		path = abs
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(c.dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if IsHidden(path) {
		return "", false
	}
	return path, true
}

// Delete removes an output file. An explicit path wins over the job's
// recorded output. Failures are reported as false.
func (c *Catalog) Delete(jobID, path string) bool {
	target, ok := c.Resolve(jobID, path)
	if !ok {
		return false
	}
	if err := os.Remove(target); err != nil {
		c.logger.Debug("delete output failed", "path", target, "error", err)
		return false
	}
	c.logger.Info("deleted output", "path", target, "job_id", jobID)
	return true
}

// Cleanup deletes every regular file in the output directory modified before
// now-olderThan and returns how many were removed.
//
// Job records are not consulted, so a tracked job may be left pointing at a
// deleted file.
func (c *Catalog) Cleanup(olderThan time.Duration) (int, error) {
	cutoff := c.now().Add(-olderThan)

	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, toolerr.System("catalog.cleanup", err)
	}

	removed := 0
	for _, entry := range entries {
		if !isOutputEntry(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("cleanup could not remove output", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("cleaned up outputs", "removed", removed, "older_than", olderThan)
	}
	return removed, nil
}

// IsHidden reports whether path names a dotfile. Dotfiles in the output
// directory (the server lock, partial writes) are never outputs.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func isOutputEntry(entry os.DirEntry) bool {
	return entry.Type().IsRegular() && !IsHidden(entry.Name())
}

// Checksum returns the hex BLAKE3 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func describe(path string) (*Output, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", abs)
	}
	return &Output{
		Path:        abs,
		Filename:    filepath.Base(abs),
		Size:        info.Size(),
		ContentType: ContentType(abs),
		CreatedAt:   info.ModTime(),
	}, nil
}
