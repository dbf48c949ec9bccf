package api

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/rendergw/internal/catalog"
)

// handleFile handles GET and HEAD /files/{name}: rendered outputs with single
// byte-range support. Only plain, non-hidden files directly inside FilesDir
// are served.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || catalog.IsHidden(name) || strings.ContainsAny(name, `/\`) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	path := filepath.Join(s.config.FilesDir, name)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("failed to open output", "path", path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	size := info.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", catalog.ContentType(path))
	w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	rng, err := parseRange(r.Header.Get("Range"), size)
	if errors.Is(err, errUnsatisfiable) {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		s.writeError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
		return
	}
	if err != nil {
		// Malformed ranges are ignored and the whole file is sent.
		rng = nil
	}

	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = io.Copy(w, f)
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.Header().Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		s.logger.Error("failed to seek output", "path", path, "error", err)
		return
	}
	_, _ = io.CopyN(w, f, rng.Length())
}
