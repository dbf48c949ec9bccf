package composition

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Discover scans dir for *.yaml / *.yml composition manifests and adds them
// to r. Invalid manifests are logged and skipped; duplicate ids keep the
// first one registered (inline config wins over manifests).
func Discover(r *Registry, dir string, logger func(level, msg string, args ...any)) error {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve compositions dir %q: %w", dir, err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("compositions dir does not exist: %s", absDir)
		}
		return fmt.Errorf("failed to stat compositions dir %s: %w", absDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("compositions dir is not a directory: %s", absDir)
	}

	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		comp, err := loadManifest(path)
		if err != nil {
			logger("warn", "failed to load composition manifest", "path", path, "error", err.Error())
			return nil
		}
		if err := r.Add(comp); err != nil {
			logger("warn", "duplicate composition ignored (keeping first registered)", "composition", comp.ID, "ignored_path", path)
			return nil
		}
		logger("info", "loaded composition", "composition", comp.ID, "path", path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan compositions dir %s: %w", absDir, err)
	}
	return nil
}

// loadManifest reads a single composition manifest. The id defaults to the
// file name without extension.
func loadManifest(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if strings.TrimSpace(info.ID) == "" {
		base := filepath.Base(path)
		info.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := validateManifest(&info); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	info.Path = path
	return &info, nil
}

func validateManifest(info *Info) error {
	if strings.ContainsAny(info.ID, `/\ `) {
		return fmt.Errorf("id %q must not contain path separators or spaces", info.ID)
	}
	if info.Width < 0 || info.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if info.FPS < 0 {
		return fmt.Errorf("fps must not be negative")
	}
	if info.DurationInFrames < 0 {
		return fmt.Errorf("duration_in_frames must not be negative")
	}
	return nil
}
