package config

import "time"

// Config represents the complete rendergw configuration.
type Config struct {
	Service         ServiceConfig              `yaml:"service"`
	Output          OutputConfig               `yaml:"output"`
	Render          RenderConfig               `yaml:"render"`
	Compositions    map[string]CompositionConf `yaml:"compositions,omitempty"`
	CompositionsDir string                     `yaml:"compositions_dir,omitempty"`
	API             APIConfig                  `yaml:"api,omitempty"`
	History         HistoryConfig              `yaml:"history,omitempty"`
	Janitor         JanitorConfig              `yaml:"janitor,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// OutputConfig describes where rendered files live and how they are linked.
type OutputConfig struct {
	Dir string `yaml:"dir"`
	// BaseURL is the static file server root used to build human-facing URLs.
	BaseURL string `yaml:"base_url"`
	// ResourceScheme prefixes resource_link URIs, e.g. remotion-output://file.mp4.
	ResourceScheme string `yaml:"resource_scheme"`
}

// RenderConfig defines how the external render worker is invoked.
type RenderConfig struct {
	// Worker is the executable spawned once per job.
	Worker string `yaml:"worker"`
	// Args are inserted before the composition id, e.g. ["remotion", "render"].
	Args []string `yaml:"args,omitempty"`
	// Dir is the worker's working directory (the composition project root).
	Dir              string            `yaml:"dir,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	TerminationGrace time.Duration     `yaml:"termination_grace,omitempty"`
	Defaults         RenderDefaults    `yaml:"defaults"`
}

// RenderDefaults are the system-level render parameters.
type RenderDefaults struct {
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	FPS              int     `yaml:"fps"`
	DurationInFrames int     `yaml:"duration_in_frames"`
	OutputFormat     string  `yaml:"output_format"`
	Quality          int     `yaml:"quality"`
	Scale            float64 `yaml:"scale"`
	Concurrency      int     `yaml:"concurrency"`
}

// CompositionConf declares a known composition and its default dimensions.
type CompositionConf struct {
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	FPS              int    `yaml:"fps"`
	DurationInFrames int    `yaml:"duration_in_frames"`
	Description      string `yaml:"description,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	ServeFiles bool   `yaml:"serve_files"`
}

// HistoryConfig enables the write-only SQLite render audit log.
type HistoryConfig struct {
	// Path of the SQLite database. Empty disables history.
	Path string `yaml:"path"`
}

// JanitorConfig defines periodic in-memory (and optionally on-disk) sweeps.
type JanitorConfig struct {
	Interval        time.Duration `yaml:"interval"`
	JobRetention    time.Duration `yaml:"job_retention"`
	StreamRetention time.Duration `yaml:"stream_retention"`
	// OutputRetention deletes rendered files older than this. Zero disables it.
	OutputRetention time.Duration `yaml:"output_retention,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "rendergw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Output: OutputConfig{
			Dir:            "./out",
			BaseURL:        "http://127.0.0.1:8080/files",
			ResourceScheme: "remotion-output",
		},
		Render: RenderConfig{
			Worker:           "npx",
			Args:             []string{"remotion", "render"},
			TerminationGrace: 5 * time.Second,
			Defaults:         DefaultRenderDefaults(),
		},
		Compositions: make(map[string]CompositionConf),
		API: APIConfig{
			Enabled:    false,
			Listen:     "127.0.0.1:8080",
			ServeFiles: true,
		},
		Janitor: JanitorConfig{
			Interval:        0,
			JobRetention:    24 * time.Hour,
			StreamRetention: time.Hour,
		},
	}
}

// DefaultRenderDefaults returns the system render parameters.
func DefaultRenderDefaults() RenderDefaults {
	return RenderDefaults{
		Width:            1920,
		Height:           1080,
		FPS:              30,
		DurationInFrames: 150,
		OutputFormat:     "mp4",
		Quality:          80,
		Scale:            1,
		Concurrency:      1,
	}
}
