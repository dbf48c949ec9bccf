package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Missing keys keep the
// values from Defaults; relative paths are resolved against the config file's
// directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over Defaults after environment interpolation. It does
// not validate.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// applyConfigDefaults fills zero values that YAML may have cleared explicitly.
func applyConfigDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = def.Service.LogFormat
	}
	if cfg.Output.ResourceScheme == "" {
		cfg.Output.ResourceScheme = def.Output.ResourceScheme
	}
	if cfg.Render.TerminationGrace <= 0 {
		cfg.Render.TerminationGrace = def.Render.TerminationGrace
	}

	d := &cfg.Render.Defaults
	sys := DefaultRenderDefaults()
	if d.OutputFormat == "" {
		d.OutputFormat = sys.OutputFormat
	}
	if d.Scale == 0 {
		d.Scale = sys.Scale
	}
	if d.Concurrency <= 0 {
		d.Concurrency = sys.Concurrency
	}
	if cfg.Compositions == nil {
		cfg.Compositions = make(map[string]CompositionConf)
	}
}

func resolvePaths(cfg *Config, baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.Output.Dir = resolve(cfg.Output.Dir)
	cfg.Render.Dir = resolve(cfg.Render.Dir)
	cfg.CompositionsDir = resolve(cfg.CompositionsDir)
	cfg.History.Path = resolve(cfg.History.Path)
}

// Discover finds the config file by checking standard locations.
// Priority order: $RENDERGW_CONFIG, ~/.config/rendergw/config.yaml, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv("RENDERGW_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "rendergw", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $RENDERGW_CONFIG, ~/.config/rendergw/config.yaml, ./config.yaml)")
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; Validate reports it where it matters.
		return match
	})
}
