package config

import (
	"errors"
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validOutputFormats = map[string]bool{"mp4": true, "webm": true, "mov": true, "gif": true}

// Validate performs basic validation on the configuration and returns every
// problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		errs = append(errs, fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel))
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat))
	}

	if strings.TrimSpace(cfg.Output.Dir) == "" {
		errs = append(errs, fmt.Errorf("output.dir is required"))
	}
	if strings.Contains(cfg.Output.ResourceScheme, ":") || strings.Contains(cfg.Output.ResourceScheme, "/") {
		errs = append(errs, fmt.Errorf("output.resource_scheme must be a bare scheme name (got %q)", cfg.Output.ResourceScheme))
	}

	if strings.TrimSpace(cfg.Render.Worker) == "" {
		errs = append(errs, fmt.Errorf("render.worker is required"))
	}
	if m := envVarPattern.FindStringSubmatch(cfg.Render.Worker); len(m) > 1 {
		errs = append(errs, fmt.Errorf("render.worker: environment variable ${%s} is not set", m[1]))
	}

	d := cfg.Render.Defaults
	if d.Width < 0 || d.Height < 0 || d.FPS < 0 || d.DurationInFrames < 0 {
		errs = append(errs, fmt.Errorf("render.defaults dimensions must not be negative"))
	}
	if !validOutputFormats[strings.ToLower(d.OutputFormat)] {
		errs = append(errs, fmt.Errorf("render.defaults.output_format must be one of mp4, webm, mov, gif (got %q)", d.OutputFormat))
	}
	if d.Scale <= 0 {
		errs = append(errs, fmt.Errorf("render.defaults.scale must be positive"))
	}

	for id, c := range cfg.Compositions {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("compositions: empty composition id"))
			continue
		}
		if c.Width < 0 || c.Height < 0 || c.FPS < 0 || c.DurationInFrames < 0 {
			errs = append(errs, fmt.Errorf("compositions.%s: dimensions must not be negative", id))
		}
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Listen) == "" {
		errs = append(errs, fmt.Errorf("api.listen is required when api.enabled is true"))
	}

	if cfg.Janitor.Interval < 0 || cfg.Janitor.JobRetention < 0 || cfg.Janitor.StreamRetention < 0 || cfg.Janitor.OutputRetention < 0 {
		errs = append(errs, fmt.Errorf("janitor durations must not be negative"))
	}

	return errors.Join(errs...)
}
