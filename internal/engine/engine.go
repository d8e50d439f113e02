package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/fetchd/internal/logbus"
	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/parse"
	"github.com/ytget/fetchd/internal/platform"
	"github.com/ytget/fetchd/internal/proc"
)

// Job id prefix for the uuid fallback path
const jobIDPrefix = "job-"

// Config bounds the engine's resource usage
type Config struct {
	// GlobalLimit caps jobs in the running state system-wide
	GlobalLimit int

	// PerOwnerLimit caps running jobs per owner key
	PerOwnerLimit int

	// GracePeriod is how long a canceled process gets to exit after the
	// cooperative signal before it is killed
	GracePeriod time.Duration

	// WorkDir holds per-job temporary download directories
	WorkDir string

	// DefaultSaveRoot is used when a request does not name a destination
	DefaultSaveRoot string
}

// CreateRequest is the input of CreateJob
type CreateRequest struct {
	// Target is free-form user input: a URL or a bare content id
	Target string

	// OwnerKey identifies the requesting principal
	OwnerKey string

	// SaveRoot overrides the destination directory
	SaveRoot string

	// Archive requests tar.gz compression of the result
	Archive bool
}

// Engine owns job admission, dispatch, and the per-job runners
type Engine struct {
	cfg        Config
	registry   *Registry
	bus        *logbus.Broadcaster
	persister  Persister
	controller proc.Controller
	creds      CredentialResolver
	execs      ExecutableResolver
	archiver   Finalizer
	newParser  func() parse.Parser
	logger     *slog.Logger

	// Admission state: the queue and slot counters are the only cross-job
	// shared mutable state, guarded by this one mutex.
	mu            sync.Mutex
	queue         []*jobEntry
	globalRunning int
	ownerRunning  map[string]int

	wg sync.WaitGroup
}

// Option configures optional collaborators
type Option func(*Engine)

// WithController replaces the process controller (used by tests)
func WithController(c proc.Controller) Option {
	return func(e *Engine) { e.controller = c }
}

// WithCredentialResolver sets the credential collaborator
func WithCredentialResolver(r CredentialResolver) Option {
	return func(e *Engine) { e.creds = r }
}

// WithExecutableResolver sets the binary lookup collaborator
func WithExecutableResolver(r ExecutableResolver) Option {
	return func(e *Engine) { e.execs = r }
}

// WithFinalizer replaces the archiver (used by tests)
func WithFinalizer(f Finalizer) Option {
	return func(e *Engine) { e.archiver = f }
}

// WithParserFactory replaces the output parser strategy
func WithParserFactory(factory func() parse.Parser) Option {
	return func(e *Engine) { e.newParser = factory }
}

// WithLogger sets the component logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine. The broadcaster, persister, and archiver defaults
// can all be overridden through options.
func New(cfg Config, bus *logbus.Broadcaster, persister Persister, archiver Finalizer, opts ...Option) *Engine {
	if cfg.GlobalLimit < 1 {
		cfg.GlobalLimit = 1
	}
	if cfg.PerOwnerLimit < 1 {
		cfg.PerOwnerLimit = 1
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if persister == nil {
		persister = NopPersister{}
	}

	e := &Engine{
		cfg:          cfg,
		registry:     NewRegistry(),
		bus:          bus,
		persister:    persister,
		controller:   proc.NewExecController(),
		creds:        AnonymousCredentials{},
		execs:        defaultExecutableResolver{},
		archiver:     archiver,
		newParser:    func() parse.Parser { return parse.NewYTDLPParser() },
		logger:       slog.Default(),
		ownerRunning: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type defaultExecutableResolver struct{}

func (defaultExecutableResolver) ResolveExecutablePath() (string, error) {
	return platform.ResolveExecutablePath("")
}

// Registry exposes the in-memory job index
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CreateJob validates the request, registers a queued job, and returns its
// snapshot immediately. It never blocks on slot availability.
func (e *Engine) CreateJob(ctx context.Context, req CreateRequest) (model.Job, error) {
	if req.OwnerKey == "" {
		return model.Job{}, fmt.Errorf("%w: missing owner key", model.ErrInvalidInput)
	}
	targetID, err := platform.ExtractTargetID(req.Target)
	if err != nil {
		return model.Job{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}

	saveRoot := req.SaveRoot
	if saveRoot == "" {
		saveRoot = e.cfg.DefaultSaveRoot
	}

	job := model.Job{
		ID:        newJobID(),
		TargetID:  targetID,
		OwnerKey:  req.OwnerKey,
		Status:    model.JobStatusQueued,
		SaveRoot:  saveRoot,
		Archive:   req.Archive,
		CreatedAt: time.Now().UTC(),
	}

	entry := newJobEntry(job)
	e.registry.add(entry)
	e.persist(job)

	e.mu.Lock()
	e.queue = append(e.queue, entry)
	e.dispatchLocked()
	e.mu.Unlock()

	return entry.snapshot(), nil
}

// GetJob returns the current snapshot for id
func (e *Engine) GetJob(id string) (model.Job, error) {
	job, ok := e.registry.Snapshot(id)
	if !ok {
		return model.Job{}, model.ErrNotFound
	}
	return job, nil
}

// ListJobs returns snapshots of all in-memory jobs, newest first
func (e *Engine) ListJobs() []model.Job {
	return e.registry.Snapshots()
}

// SubscribeLogs attaches a replay-then-live observer to the job's log stream
func (e *Engine) SubscribeLogs(id string) (<-chan model.LogEvent, func(), error) {
	if _, ok := e.registry.Snapshot(id); !ok {
		return nil, nil, model.ErrNotFound
	}
	ch, cancel := e.bus.Subscribe(id)
	return ch, cancel, nil
}

// CancelJob requests cancellation. Queued jobs are removed from the queue
// and finalized here; running jobs are signaled and finalized by their
// runner. Canceling a terminal job is a no-op returning the existing
// snapshot.
func (e *Engine) CancelJob(id string) (model.Job, error) {
	entry, ok := e.registry.get(id)
	if !ok {
		return model.Job{}, model.ErrNotFound
	}

	e.mu.Lock()
	snap := entry.snapshot()
	switch {
	case snap.Status.IsTerminal():
		e.mu.Unlock()
		return snap, nil

	case snap.Status == model.JobStatusQueued:
		e.removeFromQueueLocked(entry)
		e.mu.Unlock()

		// No slot held: finalize directly
		job := entry.update(func(j *model.Job) {
			j.Status = model.JobStatusCanceled
			j.CompletedAt = time.Now().UTC()
		})
		e.publishEnd(job)
		e.persist(job)
		return job, nil

	default: // running: the runner owns the transition
		e.mu.Unlock()
		entry.requestCancel()
		return entry.snapshot(), nil
	}
}

// Rehydrate restores persisted in-flight jobs after a restart: queued jobs
// re-enter the queue, while jobs that were running when the process died are
// marked failed (their subprocess is gone).
func (e *Engine) Rehydrate(ctx context.Context) error {
	active, err := e.persister.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}

	for _, job := range active {
		switch job.Status {
		case model.JobStatusQueued:
			entry := newJobEntry(job)
			e.registry.add(entry)
			e.mu.Lock()
			e.queue = append(e.queue, entry)
			e.mu.Unlock()

		case model.JobStatusRunning:
			job.Status = model.JobStatusFailed
			job.ErrorCode = model.ErrCodeProcessExitedNonZero
			job.ErrorMessage = "interrupted by daemon restart"
			job.CompletedAt = time.Now().UTC()
			entry := newJobEntry(job)
			e.registry.add(entry)

			// Replay the persisted history into the broadcaster, then close
			// the stream: subscribers to an orphaned job still get END.
			events, err := e.persister.LoadLogEvents(ctx, job.ID, 0)
			if err != nil {
				e.logger.Warn("load persisted events", "job", job.ID, "err", err)
			} else {
				e.bus.Restore(job.ID, events)
			}
			e.publishEnd(job)
			e.persist(job)
			e.logger.Warn("marked orphaned job as failed", "job", job.ID)
		}
	}

	e.mu.Lock()
	e.dispatchLocked()
	e.mu.Unlock()
	return nil
}

// Shutdown cancels all running jobs and waits for their runners to finish,
// up to the context deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, job := range e.registry.Snapshots() {
		if job.Status == model.JobStatusRunning {
			if entry, ok := e.registry.get(job.ID); ok {
				entry.requestCancel()
			}
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLocked scans the queue from the head and starts every eligible
// job. Eligible means a global slot and a per-owner slot are both free.
// Scanning past a blocked head keeps one saturated owner from stalling
// everyone else: intra-owner order stays FIFO, cross-owner order is best
// effort.
func (e *Engine) dispatchLocked() {
	for i := 0; i < len(e.queue); {
		if e.globalRunning >= e.cfg.GlobalLimit {
			return
		}

		entry := e.queue[i]
		snap := entry.snapshot()
		if snap.Status != model.JobStatusQueued {
			// Finalized while waiting (e.g. canceled): drop without a slot
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			continue
		}
		owner := snap.OwnerKey
		if e.ownerRunning[owner] >= e.cfg.PerOwnerLimit {
			i++
			continue
		}

		e.queue = append(e.queue[:i], e.queue[i+1:]...)
		e.globalRunning++
		e.ownerRunning[owner]++

		// The RUNNING transition happens here, still under the admission
		// mutex: CancelJob also reads status under this mutex, so it can
		// never see a dispatched job as queued and finalize it behind the
		// runner's back.
		entry.update(func(j *model.Job) {
			j.Status = model.JobStatusRunning
			j.StartedAt = time.Now().UTC()
		})

		e.wg.Add(1)
		go e.runJob(entry)
	}
}

// releaseSlot returns the job's slots and re-evaluates the queue. It runs
// deferred in the runner so a panicking runner cannot leak a slot.
func (e *Engine) releaseSlot(owner string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.globalRunning--
	e.ownerRunning[owner]--
	if e.ownerRunning[owner] <= 0 {
		delete(e.ownerRunning, owner)
	}
	e.dispatchLocked()
}

func (e *Engine) removeFromQueueLocked(entry *jobEntry) {
	for i, queued := range e.queue {
		if queued == entry {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// persist mirrors a snapshot to the durable store. The registry stays the
// source of truth; persistence failures are logged, not propagated.
func (e *Engine) persist(job model.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.persister.SaveJobSnapshot(ctx, job); err != nil {
		e.logger.Error("persist job snapshot", "job", job.ID, "err", err)
	}
}

func (e *Engine) persistEvents(jobID string, events []model.LogEvent) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.persister.AppendLogEvents(ctx, jobID, events); err != nil {
		e.logger.Error("persist log events", "job", jobID, "err", err)
	}
}

func (e *Engine) workDirFor(jobID string) string {
	return filepath.Join(e.cfg.WorkDir, jobID)
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(jobIDPrefix+"%d", time.Now().UnixNano())
	}
	return jobIDPrefix + id.String()
}
