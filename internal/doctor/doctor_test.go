package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/rendergw/internal/composition"
	"github.com/mattjoyce/rendergw/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Output.Dir = t.TempDir()
	cfg.Render.Worker = "remotion"
	cfg.API.Enabled = true
	cfg.Compositions["Intro"] = config.CompositionConf{Width: 1920, Height: 1080}
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg, composition.FromConfig(cfg.Compositions))
	d.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	d.fsCheck = func(string, string) error { return nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_WorkerNotFound(t *testing.T) {
	t.Parallel()
	d := newDoctor(validConfig(t))
	d.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "render", "remotion")
}

func TestValidate_RenderDirMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Render.Dir = filepath.Join(t.TempDir(), "nope")
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "render", "working directory")
}

func TestValidate_ShortTerminationGrace(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Render.TerminationGrace = 100 * time.Millisecond
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "render", "very short")
}

func TestValidate_OutputDirIsFile(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "out")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg.Output.Dir = file
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "output", "not a directory")
}

func TestValidate_OutputDirMissingIsWarning(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Output.Dir = filepath.Join(t.TempDir(), "later")
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "output", "will be created")
}

func TestValidate_NetworkFilesystem(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	d := newDoctor(cfg)
	d.fsCheck = func(path, setting string) error {
		return errors.New(setting + " is on a network filesystem (nfs)")
	}
	r := d.Validate()
	assertHasError(t, r, "output", "network filesystem")
	assertHasError(t, r, "history", "network filesystem")
}

func TestValidate_NoCompositions(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Compositions = map[string]config.CompositionConf{}
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "compositions", "no compositions")
}

func TestValidate_OddDimensionsForMP4(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Compositions["Square"] = config.CompositionConf{Width: 1081, Height: 1080}
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "compositions", "1081x1080")

	cfg.Render.Defaults.OutputFormat = "gif"
	r = newDoctor(cfg).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("gif output should not warn about dimensions, got: %v", r.Warnings)
	}
}

func TestValidate_BaseURLWithoutFileServer(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = false
	cfg.Output.BaseURL = "http://" + cfg.API.Listen + "/files"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "output", "file server")

	cfg.API.Enabled = true
	r = newDoctor(cfg).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings with file server on, got: %v", r.Warnings)
	}

	cfg.API.Enabled = false
	cfg.Output.BaseURL = "https://cdn.example.com/renders"
	r = newDoctor(cfg).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("external base_url should not warn, got: %v", r.Warnings)
	}
}

func TestValidate_JanitorOutputRetention(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Janitor.OutputRetention = time.Hour
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "janitor", "no effect")

	cfg.Janitor.Interval = time.Minute
	cfg.Janitor.JobRetention = 24 * time.Hour
	r = newDoctor(cfg).Validate()
	assertHasWarning(t, r, "janitor", "missing files")
}

func TestValidate_MissingEnvVars(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Render.Env = map[string]string{
		"REMOTION_AWS_KEY": "${RENDERGW_TEST_UNSET_KEY}",
		"EMPTY":            "",
	}
	cfg.Render.Args = []string{"render", "--props=${RENDERGW_TEST_UNSET_PROPS}"}
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("env warnings must not invalidate, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "env_vars", "RENDERGW_TEST_UNSET_KEY")
	assertHasWarning(t, r, "env_vars", "RENDERGW_TEST_UNSET_PROPS")
	assertHasWarning(t, r, "env_vars", "empty")
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	ok := FormatHuman(&Result{Valid: true})
	if ok != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %q", ok)
	}

	out := FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "render", Field: "render.worker", Message: "missing"}},
		Warnings: []Issue{{Category: "compositions", Message: "none"}},
	})
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"ERROR [render] render.worker: missing",
		"WARN  [compositions] none",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true, Warnings: []Issue{{Category: "x", Message: "y"}}})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"category": "x"`) {
		t.Fatalf("unexpected JSON: %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
