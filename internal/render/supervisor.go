package render

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/rendergw/internal/config"
	"github.com/mattjoyce/rendergw/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr kept as a failure message.
	maxStderrBytes = 64 * 1024

	// maxStdoutLine bounds a single progress line.
	maxStdoutLine = 1024 * 1024

	defaultTerminationGrace = 5 * time.Second
)

// RunSpec is what the supervisor needs to render one job.
type RunSpec struct {
	JobID         string
	CompositionID string
	Parameters    Parameters
}

// Result is how a worker process ended.
type Result struct {
	OutputPath string
	// Err is nil on exit code 0; otherwise the spawn or exit error.
	Err    error
	Stderr string
}

// Handle is the registry's grip on a live worker.
type Handle interface {
	// Terminate asks the worker to stop. It must not block.
	Terminate()
}

// Reporter receives a worker's lifecycle callbacks.
type Reporter interface {
	// Attach records the live process for a job. Returning false means the
	// job was already resolved and the process must be stopped.
	Attach(jobID string, h Handle) bool
	Progress(jobID string, u ProgressUpdate)
	Exit(jobID string, res Result)
}

// Runner owns the spawn-to-exit lifecycle of one worker process.
type Runner interface {
	Run(spec RunSpec, rep Reporter)
}

// SupervisorConfig holds what the supervisor needs from configuration.
type SupervisorConfig struct {
	Worker           string
	Args             []string
	Dir              string
	Env              map[string]string
	OutputDir        string
	TerminationGrace time.Duration
}

// SupervisorConfigFrom extracts the supervisor settings from cfg.
func SupervisorConfigFrom(cfg *config.Config) SupervisorConfig {
	return SupervisorConfig{
		Worker:           cfg.Render.Worker,
		Args:             cfg.Render.Args,
		Dir:              cfg.Render.Dir,
		Env:              cfg.Render.Env,
		OutputDir:        cfg.Output.Dir,
		TerminationGrace: cfg.Render.TerminationGrace,
	}
}

// Supervisor spawns the external render worker, one process per job.
type Supervisor struct {
	cfg    SupervisorConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	reserved map[string]struct{}
}

var _ Runner = (*Supervisor)(nil)

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.TerminationGrace <= 0 {
		cfg.TerminationGrace = defaultTerminationGrace
	}
	return &Supervisor{
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithComponent("supervisor"),
		reserved: make(map[string]struct{}),
	}
}

// OutputFilename returns {compositionId}_{ISO8601 with ':' and '.' as '-'}.{ext}.
func OutputFilename(compositionID, format string, at time.Time) string {
	if format == "" {
		format = "mp4"
	}
	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s_%s.%s", compositionID, stamp, format)
}

// BuildArgs returns the worker's arguments after the configured prefix.
// Quality is not forwarded; its flag is format-dependent and deprecated.
func BuildArgs(compositionID, outputPath string, p Parameters) []string {
	args := []string{compositionID, outputPath}
	if p.Width > 0 {
		args = append(args, "--width="+strconv.Itoa(p.Width))
	}
	if p.Height > 0 {
		args = append(args, "--height="+strconv.Itoa(p.Height))
	}
	if p.FPS > 0 {
		args = append(args, "--fps="+strconv.Itoa(p.FPS))
	}
	if p.DurationInFrames > 0 {
		args = append(args, fmt.Sprintf("--frames=0-%d", p.DurationInFrames-1))
	}
	if p.Scale != 0 && p.Scale != 1 {
		args = append(args, "--scale="+strconv.FormatFloat(p.Scale, 'f', -1, 64))
	}
	return args
}

// reserveOutputPath picks the output path for a spawn at time at. Two jobs
// for one composition in the same millisecond would collide, so the stamp is
// nudged forward until the path is unused both in flight and on disk.
func (s *Supervisor) reserveOutputPath(compositionID, format string, at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		path := filepath.Join(s.cfg.OutputDir, OutputFilename(compositionID, format, at))
		if _, taken := s.reserved[path]; !taken {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				s.reserved[path] = struct{}{}
				return path
			}
		}
		at = at.Add(time.Millisecond)
	}
}

func (s *Supervisor) release(path string) {
	s.mu.Lock()
	delete(s.reserved, path)
	s.mu.Unlock()
}

// Run spawns the worker for spec and blocks until it exits, reporting
// progress and the final result to rep.
func (s *Supervisor) Run(spec RunSpec, rep Reporter) {
	logger := s.logger.With("job_id", spec.JobID, "composition_id", spec.CompositionID)

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		rep.Exit(spec.JobID, Result{Err: fmt.Errorf("create output directory: %w", err)})
		return
	}

	outputPath := s.reserveOutputPath(spec.CompositionID, spec.Parameters.OutputFormat, s.now())
	defer s.release(outputPath)

	args := append(append([]string{}, s.cfg.Args...), BuildArgs(spec.CompositionID, outputPath, spec.Parameters)...)
	cmd := exec.Command(s.cfg.Worker, args...)
	cmd.Dir = s.cfg.Dir
	// Own process group so termination reaches grandchildren (npx -> node).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range s.cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		rep.Exit(spec.JobID, Result{Err: fmt.Errorf("create stdout pipe: %w", err)})
		return
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		rep.Exit(spec.JobID, Result{Err: fmt.Errorf("create stderr pipe: %w", err)})
		return
	}

	logger.Debug("spawning worker", "worker", s.cfg.Worker, "args", args)
	if err := cmd.Start(); err != nil {
		logger.Error("worker spawn failed", "error", err)
		rep.Exit(spec.JobID, Result{Err: fmt.Errorf("start worker: %w", err)})
		return
	}

	proc := &process{
		cmd:    cmd,
		done:   make(chan struct{}),
		grace:  s.cfg.TerminationGrace,
		logger: logger,
	}
	if !rep.Attach(spec.JobID, proc) {
		logger.Info("job resolved before worker attached, stopping worker")
		proc.Terminate()
	}

	var (
		wg     sync.WaitGroup
		stderr cappedBuffer
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.scanProgress(spec.JobID, stdout, rep, logger)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderr, stderrPipe)
	}()

	// Readers must drain before Wait closes the pipes.
	wg.Wait()
	waitErr := cmd.Wait()
	close(proc.done)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			logger.Warn("worker exited with non-zero status", "exit_code", exitErr.ExitCode())
		} else {
			logger.Error("wait for worker failed", "error", waitErr)
		}
	}
	rep.Exit(spec.JobID, Result{OutputPath: outputPath, Err: waitErr, Stderr: stderr.String()})
}

func (s *Supervisor) scanProgress(jobID string, r io.Reader, rep Reporter, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxStdoutLine)
	scanner.Split(scanProgressLines)

	for scanner.Scan() {
		line := scanner.Text()
		update, ok, err := ParseProgressLine(line)
		if err != nil {
			logger.Debug("ignoring unparseable progress line", "error", err)
			continue
		}
		if ok {
			rep.Progress(jobID, update)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stopped parsing worker output", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

// process is a live worker.
type process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	grace  time.Duration
	logger *slog.Logger
	once   sync.Once
}

// Terminate sends SIGTERM and escalates to SIGKILL after the grace period.
func (p *process) Terminate() {
	p.once.Do(func() { go p.terminate() })
}

func (p *process) terminate() {
	if p.cmd.Process == nil {
		return
	}
	pgid := -p.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			p.logger.Error("failed to send SIGTERM", "error", err)
		}
		return
	}

	grace := time.NewTimer(p.grace)
	defer grace.Stop()

	select {
	case <-p.done:
		p.logger.Info("worker exited after SIGTERM")
	case <-grace.C:
		p.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			p.logger.Error("failed to send SIGKILL", "error", err)
		}
	}
}

// cappedBuffer keeps the first maxStderrBytes written and discards the rest.
type cappedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := maxStderrBytes - len(c.buf); room > 0 {
		c.buf = append(c.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}
