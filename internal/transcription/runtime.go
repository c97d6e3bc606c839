// Package transcription supervises the Python transcription API process and
// wraps its REST endpoints.
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/editsuite/orchestrator/internal/models"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var commandContext = exec.CommandContext

var (
	readyMarkers   = []string{"Uvicorn running on", "Application startup complete"}
	failureMarkers = []string{"Address already in use", "Permission denied"}
)

// ErrLocked is returned when another orchestrator holds the runtime lock.
var ErrLocked = errors.New("another orchestrator is already running the transcription API")

// Option configures a Runtime.
type Option func(*Runtime)

// WithWorkDir sets the directory the Python API is launched from.
func WithWorkDir(dir string) Option {
	return func(r *Runtime) { r.workDir = dir }
}

// WithLockFile guards process ownership with a file lock at path.
func WithLockFile(path string) Option {
	return func(r *Runtime) {
		if path != "" {
			r.lock = flock.New(path)
		}
	}
}

// WithReadyAttempts sets how many readiness probes run before giving up.
func WithReadyAttempts(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.readyAttempts = n
		}
	}
}

// WithReadyInterval sets the delay between readiness probes.
func WithReadyInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.readyInterval = d
		}
	}
}

// WithFallbackDelay sets how long to wait for a startup marker before polling anyway.
func WithFallbackDelay(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.fallbackDelay = d
		}
	}
}

// WithKillGrace sets how long Stop waits after SIGTERM before SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.killGrace = d
		}
	}
}

type process struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

type startupSignal struct {
	failed bool
	line   string
}

// Runtime manages one Python transcription API process.
type Runtime struct {
	baseURL string
	command string
	args    []string
	workDir string
	lock    *flock.Flock
	http    *http.Client

	logger    *zap.Logger
	apiLogger *zap.Logger

	readyAttempts int
	readyInterval time.Duration
	fallbackDelay time.Duration
	killGrace     time.Duration

	group singleflight.Group

	mu        sync.Mutex
	proc      *process
	ready     bool
	startedAt time.Time
}

// NewRuntime builds a supervisor that launches command (binary plus args) and
// expects the API to answer at baseURL.
func NewRuntime(baseURL, command string, args []string, logger *zap.Logger, opts ...Option) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		baseURL:       strings.TrimRight(baseURL, "/"),
		command:       command,
		args:          args,
		http:          &http.Client{Timeout: 5 * time.Second},
		logger:        logger.Named("transcription"),
		apiLogger:     logger.Named("transcription-api"),
		readyAttempts: 30,
		readyInterval: time.Second,
		fallbackDelay: 5 * time.Second,
		killGrace:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BaseURL returns the API root.
func (r *Runtime) BaseURL() string { return r.baseURL }

// Start launches the API and blocks until it answers or startup fails.
// Concurrent callers share a single attempt.
func (r *Runtime) Start(ctx context.Context) error {
	if r.isReady() {
		return nil
	}
	ch := r.group.DoChan("start", func() (interface{}, error) {
		return nil, r.start()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) start() error {
	r.mu.Lock()
	if r.proc != nil || r.ready {
		r.mu.Unlock()
		r.logger.Info("Transcription API already running")
		return nil
	}
	r.mu.Unlock()

	if r.lock != nil {
		ok, err := r.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ErrLocked
		}
	}

	r.logger.Info("Starting transcription API server...",
		zap.String("path", r.workDir),
		zap.String("baseURL", r.baseURL))

	signals := make(chan startupSignal, 4)
	cmd := commandContext(context.Background(), r.command, r.args...) //nolint:gosec
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env, "PYTHONPATH="+r.workDir)
	cmd.Stdout = &lineWriter{onLine: r.outputHandler("stdout", readyMarkers, false, signals)}
	cmd.Stderr = &lineWriter{onLine: r.outputHandler("stderr", failureMarkers, true, signals)}
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		r.logger.Error("Transcription API process error", zap.Error(err))
		r.releaseLock()
		return fmt.Errorf("failed to start transcription API: %w", err)
	}

	p := &process{cmd: cmd, exited: make(chan struct{})}
	r.mu.Lock()
	r.proc = p
	r.startedAt = time.Now()
	r.mu.Unlock()

	go r.wait(p)

	timer := time.NewTimer(r.fallbackDelay)
	defer timer.Stop()

	select {
	case sig := <-signals:
		if sig.failed {
			r.abort(p)
			return fmt.Errorf("transcription API startup failed: %s", sig.line)
		}
	case <-timer.C:
		r.logger.Debug("no startup marker seen, polling readiness")
	case <-p.exited:
		return processExitError(p)
	}

	if err := r.waitReady(p, signals); err != nil {
		r.abort(p)
		return err
	}

	r.mu.Lock()
	if r.proc == p {
		r.ready = true
	}
	r.mu.Unlock()
	r.logger.Info("Transcription API server is ready!", zap.String("baseURL", r.baseURL))
	return nil
}

func (r *Runtime) outputHandler(stream string, markers []string, failure bool, signals chan<- startupSignal) func(string) {
	return func(line string) {
		r.apiLogger.Debug(line, zap.String("stream", stream))
		for _, marker := range markers {
			if strings.Contains(line, marker) {
				select {
				case signals <- startupSignal{failed: failure, line: line}:
				default:
				}
				return
			}
		}
	}
}

func (r *Runtime) waitReady(p *process, signals <-chan startupSignal) error {
	for attempt := 1; attempt <= r.readyAttempts; attempt++ {
		if r.probe(context.Background()) {
			return nil
		}
		r.logger.Debug(fmt.Sprintf("API health check attempt %d/%d failed", attempt, r.readyAttempts))

		select {
		case sig := <-signals:
			if sig.failed {
				return fmt.Errorf("transcription API startup failed: %s", sig.line)
			}
		case <-p.exited:
			return processExitError(p)
		case <-time.After(r.readyInterval):
		}
	}
	return fmt.Errorf("transcription API failed to start within %d seconds", r.readyAttempts)
}

func (r *Runtime) wait(p *process) {
	err := p.cmd.Wait()
	p.err = err

	fields := []zap.Field{zap.Int("code", p.cmd.ProcessState.ExitCode())}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn("Transcription API process exited", fields...)

	r.mu.Lock()
	owned := r.proc == p
	if owned {
		r.proc = nil
		r.ready = false
		r.startedAt = time.Time{}
	}
	r.mu.Unlock()
	if owned {
		r.releaseLock()
	}
	close(p.exited)
}

func processExitError(p *process) error {
	if p.err != nil {
		return fmt.Errorf("transcription API exited during startup: %w", p.err)
	}
	return errors.New("transcription API exited during startup")
}

// abort tears down a process whose startup failed.
func (r *Runtime) abort(p *process) {
	r.mu.Lock()
	owned := r.proc == p
	if owned {
		r.proc = nil
		r.ready = false
		r.startedAt = time.Time{}
	}
	r.mu.Unlock()

	r.terminate(p)
	if owned {
		r.releaseLock()
	}
}

// Stop sends SIGTERM, escalating to SIGKILL after the kill grace, and
// releases the runtime lock.
func (r *Runtime) Stop() {
	r.mu.Lock()
	p := r.proc
	r.proc = nil
	r.ready = false
	r.startedAt = time.Time{}
	r.mu.Unlock()

	if p == nil {
		return
	}
	r.logger.Info("Stopping transcription API server...")
	r.terminate(p)
	r.releaseLock()
}

func (r *Runtime) terminate(p *process) {
	select {
	case <-p.exited:
		return
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Debug("SIGTERM failed", zap.Error(err))
	}

	select {
	case <-p.exited:
		return
	case <-time.After(r.killGrace):
	}

	r.logger.Warn("Force killing transcription API process")
	if err := p.cmd.Process.Kill(); err != nil {
		r.logger.Debug("SIGKILL failed", zap.Error(err))
	}
	<-p.exited
}

func (r *Runtime) releaseLock() {
	if r.lock == nil {
		return
	}
	if err := r.lock.Unlock(); err != nil {
		r.logger.Warn("failed to release transcription lock", zap.Error(err))
	}
}

// Healthy reports whether the API is ready and answering GET /.
func (r *Runtime) Healthy(ctx context.Context) bool {
	if !r.isReady() {
		return false
	}
	ok := r.probe(ctx)
	if !ok {
		r.logger.Debug("Health check failed")
	}
	return ok
}

func (r *Runtime) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *Runtime) isReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Status returns a snapshot of the supervised process.
func (r *Runtime) Status() models.RuntimeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := models.RuntimeStatus{
		IsReady:        r.ready,
		BaseURL:        r.baseURL,
		ProcessRunning: r.proc != nil,
	}
	if r.proc != nil && r.proc.cmd.Process != nil {
		status.PID = r.proc.cmd.Process.Pid
	}
	if !r.startedAt.IsZero() {
		status.StartedAt = r.startedAt.UTC().Format(time.RFC3339)
	}
	return status
}

// lineWriter splits process output into lines.
type lineWriter struct {
	mu     sync.Mutex
	buf    []byte
	onLine func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if strings.TrimSpace(line) != "" {
			w.onLine(line)
		}
	}
	return len(p), nil
}
