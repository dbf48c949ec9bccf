package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckLocalFilesystem_AllowsLocalFS(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "renders")
	err := checkLocalFilesystem(dir, "output.dir", func(string) (string, error) {
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalFilesystem_RejectsNetworkFS(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "renders")
	err := checkLocalFilesystem(dir, "output.dir", func(string) (string, error) {
		return "nfs", nil
	})
	if err == nil {
		t.Fatal("expected network filesystem error")
	}
	for _, want := range []string{"output.dir", "nfs", "local disk"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err.Error())
		}
	}
}

func TestCheckLocalFilesystem_UsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocalFilesystem(filepath.Join(root, "a", "b", "history.db"), "history.path", func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("expected detector to inspect %q, got %q", root, inspected)
	}
}

func TestCheckLocalFilesystem_UnknownDetectorPasses(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(t.TempDir(), "output.dir", func(string) (string, error) {
		return "", errors.New("unsupported")
	})
	if err != nil {
		t.Fatalf("expected detector failure to pass through, got: %v", err)
	}
}

func TestCheckLocalFilesystem_EmptyPath(t *testing.T) {
	t.Parallel()

	if err := checkLocalFilesystem("", "output.dir", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fs   string
		want bool
	}{
		{fs: "nfs", want: true},
		{fs: " CIFS ", want: true},
		{fs: "ext4", want: false},
		{fs: "0x6969", want: false},
	}
	for _, tc := range cases {
		if got := isNetworkFilesystem(tc.fs); got != tc.want {
			t.Fatalf("isNetworkFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
		}
	}
}
