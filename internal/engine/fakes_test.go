package engine

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ytget/fetchd/internal/archive"
	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/proc"
)

// fakeHandle is a scripted process: output is written to pipes and the
// "process" exits when told to (or when signaled, if exitOnSignal is set).
type fakeHandle struct {
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	done     chan struct{}
	exitOnce sync.Once
	exitCode int

	mu           sync.Mutex
	signals      []proc.SignalMode
	exitOnSignal bool
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{done: make(chan struct{})}
	h.stdoutR, h.stdoutW = io.Pipe()
	h.stderrR, h.stderrW = io.Pipe()
	return h
}

func (h *fakeHandle) Stdout() io.Reader { return h.stdoutR }
func (h *fakeHandle) Stderr() io.Reader { return h.stderrR }

func (h *fakeHandle) Signal(mode proc.SignalMode) error {
	h.mu.Lock()
	h.signals = append(h.signals, mode)
	exit := h.exitOnSignal
	h.mu.Unlock()
	if exit {
		h.exit(130)
	}
	return nil
}

func (h *fakeHandle) Wait() (int, error) {
	<-h.done
	return h.exitCode, nil
}

func (h *fakeHandle) writeStdout(s string) {
	h.stdoutW.Write([]byte(s))
}

func (h *fakeHandle) writeStderr(s string) {
	h.stderrW.Write([]byte(s))
}

func (h *fakeHandle) exit(code int) {
	h.exitOnce.Do(func() {
		h.exitCode = code
		h.stdoutW.Close()
		h.stderrW.Close()
		close(h.done)
	})
}

func (h *fakeHandle) signalCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.signals)
}

// fakeController hands out scripted handles, keyed by the job id embedded in
// the spawn args so tests can address a specific job's process.
type fakeController struct {
	mu           sync.Mutex
	spawnErr     error
	exitOnSignal bool                // applied to every handle before it is handed out
	onSpawn      func(h *fakeHandle) // runs in its own goroutine per spawn
	handles      []*fakeHandle
	handlesByJob map[string]*fakeHandle
	spawned      chan *fakeHandle
}

func newFakeController(buffer int) *fakeController {
	return &fakeController{
		handlesByJob: make(map[string]*fakeHandle),
		spawned:      make(chan *fakeHandle, buffer),
	}
}

func (c *fakeController) Spawn(path string, args []string, env []string) (proc.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spawnErr != nil {
		return nil, c.spawnErr
	}

	h := newFakeHandle()
	h.exitOnSignal = c.exitOnSignal
	c.handles = append(c.handles, h)
	if id := jobIDFromArgs(args); id != "" {
		c.handlesByJob[id] = h
	}
	if c.onSpawn != nil {
		go c.onSpawn(h)
	}
	c.spawned <- h
	return h, nil
}

// jobIDFromArgs recovers the job id from the -o output template, whose
// directory is the per-job work dir.
func jobIDFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			return filepath.Base(filepath.Dir(args[i+1]))
		}
	}
	return ""
}

// handleFor waits for the process spawned for one specific job
func (c *fakeController) handleFor(t *testing.T, jobID string) *fakeHandle {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		h := c.handlesByJob[jobID]
		c.mu.Unlock()
		if h != nil {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no process spawned for job %s", jobID)
	return nil
}

func (c *fakeController) spawnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// fakeFinalizer records Finalize calls and returns a scripted result
type fakeFinalizer struct {
	mu     sync.Mutex
	result archive.Result
	err    error
	calls  int
}

func (f *fakeFinalizer) Finalize(tempDir, saveRoot string, archiveRequested bool) (archive.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return archive.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeExecResolver scripts binary lookup
type fakeExecResolver struct {
	path string
	err  error
}

func (r fakeExecResolver) ResolveExecutablePath() (string, error) {
	return r.path, r.err
}

// fakeCredResolver scripts credential lookup
type fakeCredResolver struct {
	creds Credentials
	err   error
}

func (r fakeCredResolver) ResolveCredentials(ctx context.Context, ownerKey string) (Credentials, error) {
	return r.creds, r.err
}

// memPersister is an in-memory Persister for rehydration tests
type memPersister struct {
	mu     sync.Mutex
	jobs   map[string]model.Job
	events map[string][]model.LogEvent
}

func newMemPersister() *memPersister {
	return &memPersister{
		jobs:   make(map[string]model.Job),
		events: make(map[string][]model.LogEvent),
	}
}

func (p *memPersister) SaveJobSnapshot(ctx context.Context, job model.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[job.ID] = job
	return nil
}

func (p *memPersister) AppendLogEvents(ctx context.Context, jobID string, events []model.LogEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[jobID] = append(p.events[jobID], events...)
	return nil
}

func (p *memPersister) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Job
	for _, job := range p.jobs {
		if job.Status.IsActive() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (p *memPersister) LoadLogEvents(ctx context.Context, jobID string, afterSeq uint64) ([]model.LogEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.LogEvent
	for _, event := range p.events[jobID] {
		if event.Seq > afterSeq {
			out = append(out, event)
		}
	}
	return out, nil
}

func (p *memPersister) job(id string) (model.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	return job, ok
}

var errScripted = errors.New("scripted failure")
