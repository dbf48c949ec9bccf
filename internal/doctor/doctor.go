// Package doctor checks a loaded rendergw configuration against the machine
// it will run on: the worker binary, directories, and settings that parse
// fine but cannot work together.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/rendergw/internal/composition"
	"github.com/mattjoyce/rendergw/internal/config"
	"github.com/mattjoyce/rendergw/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var unresolvedEnv = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates configuration against the known compositions.
type Doctor struct {
	cfg   *config.Config
	comps *composition.Registry

	lookPath func(string) (string, error)
	fsCheck  func(path, setting string) error
}

// New creates a Doctor from a loaded config and composition registry.
func New(cfg *config.Config, comps *composition.Registry) *Doctor {
	if comps == nil {
		comps = composition.NewRegistry()
	}
	return &Doctor{
		cfg:      cfg,
		comps:    comps,
		lookPath: exec.LookPath,
		fsCheck:  storage.CheckLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateWorker(r)
	d.validateOutputDir(r)
	d.validateHistory(r)
	d.validateCompositions(r)
	d.warnFileLinks(r)
	d.warnJanitor(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateWorker checks the render worker can be spawned.
func (d *Doctor) validateWorker(r *Result) {
	rc := d.cfg.Render
	if rc.Worker != "" && !unresolvedEnv.MatchString(rc.Worker) {
		if _, err := d.lookPath(rc.Worker); err != nil {
			d.addError(r, "render", "render.worker",
				fmt.Sprintf("worker %q not found or not executable: %v", rc.Worker, err))
		}
	}
	if rc.Dir != "" {
		info, err := os.Stat(rc.Dir)
		switch {
		case err != nil:
			d.addError(r, "render", "render.dir", fmt.Sprintf("working directory %s: %v", rc.Dir, err))
		case !info.IsDir():
			d.addError(r, "render", "render.dir", fmt.Sprintf("%s is not a directory", rc.Dir))
		}
	}
	if rc.TerminationGrace > 0 && rc.TerminationGrace < time.Second {
		d.addWarning(r, "render", "render.termination_grace",
			fmt.Sprintf("termination grace %s is very short; workers may be killed before writing partial output", rc.TerminationGrace))
	}
}

// validateOutputDir checks the output directory is usable.
func (d *Doctor) validateOutputDir(r *Result) {
	dir := d.cfg.Output.Dir
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "output", "output.dir", fmt.Sprintf("%s does not exist yet; it will be created on start", dir))
	case err != nil:
		d.addError(r, "output", "output.dir", fmt.Sprintf("cannot stat %s: %v", dir, err))
		return
	case !info.IsDir():
		d.addError(r, "output", "output.dir", fmt.Sprintf("%s is not a directory", dir))
		return
	}
	if err := d.fsCheck(dir, "output.dir"); err != nil {
		d.addError(r, "output", "output.dir", err.Error())
	}
}

func (d *Doctor) validateHistory(r *Result) {
	if d.cfg.History.Path == "" {
		return
	}
	if err := d.fsCheck(d.cfg.History.Path, "history.path"); err != nil {
		d.addError(r, "history", "history.path", err.Error())
	}
}

// validateCompositions warns when nothing can be rendered and about
// dimensions common video codecs reject.
func (d *Doctor) validateCompositions(r *Result) {
	all := d.comps.All()
	if len(all) == 0 {
		d.addWarning(r, "compositions", "compositions",
			"no compositions registered; every trigger_render call will be rejected")
		return
	}

	defaults := d.cfg.Render.Defaults
	if !strings.EqualFold(defaults.OutputFormat, "mp4") {
		return
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, c := range all {
		w, h := c.Width, c.Height
		if w == 0 {
			w = defaults.Width
		}
		if h == 0 {
			h = defaults.Height
		}
		if w%2 != 0 || h%2 != 0 {
			d.addWarning(r, "compositions", "compositions."+c.ID,
				fmt.Sprintf("%dx%d has an odd dimension; H.264 mp4 output requires even width and height", w, h))
		}
	}
}

// warnFileLinks flags a base_url that points at the built-in file server
// while that server is off.
func (d *Doctor) warnFileLinks(r *Result) {
	base := d.cfg.Output.BaseURL
	if base == "" || (d.cfg.API.Enabled && d.cfg.API.ServeFiles) {
		return
	}
	u, err := url.Parse(base)
	if err != nil {
		d.addError(r, "output", "output.base_url", fmt.Sprintf("invalid URL %q: %v", base, err))
		return
	}
	if u.Host == d.cfg.API.Listen {
		d.addWarning(r, "output", "output.base_url",
			"base_url points at the built-in file server, which is disabled; links in tool results will not resolve")
	}
}

func (d *Doctor) warnJanitor(r *Result) {
	j := d.cfg.Janitor
	if j.OutputRetention <= 0 {
		return
	}
	if j.Interval <= 0 {
		d.addWarning(r, "janitor", "janitor.output_retention",
			"output_retention has no effect while janitor.interval is 0")
		return
	}
	if j.OutputRetention < j.JobRetention {
		d.addWarning(r, "janitor", "janitor.output_retention",
			fmt.Sprintf("outputs are deleted after %s but jobs are kept for %s; get_render_output will report missing files", j.OutputRetention, j.JobRetention))
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range unresolvedEnv.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}

	for i, a := range d.cfg.Render.Args {
		check(fmt.Sprintf("render.args[%d]", i), a)
	}
	keys := make([]string, 0, len(d.cfg.Render.Env))
	for k := range d.cfg.Render.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := d.cfg.Render.Env[k]
		if v == "" {
			d.addWarning(r, "env_vars", "render.env."+k, "value is empty")
			continue
		}
		check("render.env."+k, v)
	}
	check("output.base_url", d.cfg.Output.BaseURL)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	writeIssues(&b, "ERROR", r.Errors)
	writeIssues(&b, "WARN ", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, label string, issues []Issue) {
	for _, is := range issues {
		if is.Field != "" {
			fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		} else {
			fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
		}
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
