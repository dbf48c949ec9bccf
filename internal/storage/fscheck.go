package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem fails when path (or its nearest existing parent) lives
// on a network filesystem, where SQLite and flock locking are unreliable.
// setting names the config key shown in the error.
func CheckLocalFilesystem(path, setting string) error {
	return checkLocalFilesystem(path, setting, detectFilesystemType)
}

func checkLocalFilesystem(path, setting string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", setting, path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		// Unknown platforms are allowed through.
		return nil
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%s %q is on network filesystem %q; file locking needs a local disk", setting, path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
