package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/parse"
	"github.com/ytget/fetchd/internal/platform"
	"github.com/ytget/fetchd/internal/proc"
)

// Runner tuning
const (
	// pumpChunkSize is the read size for process output
	pumpChunkSize = 4096

	// stderrTailLines is how many trailing stderr lines are kept for the
	// job's error message on nonzero exit
	stderrTailLines = 10
)

// runJob owns one job from dispatch to terminal state. It is the only
// goroutine that writes this job's status and progress.
func (e *Engine) runJob(entry *jobEntry) {
	// Dispatch already moved the job to RUNNING under the admission mutex
	job := entry.snapshot()
	owner := job.OwnerKey

	defer e.wg.Done()
	// Guaranteed slot release: a panicking runner must not leak a slot
	defer e.releaseSlot(owner)

	e.persist(job)
	e.publishEvent(job.ID, parse.Event{Kind: model.EventMilestone, Message: "Job started"})

	creds, err := e.creds.ResolveCredentials(context.Background(), owner)
	if err != nil {
		e.finishFailed(entry, model.ErrCodeCredentialNotFound, err.Error())
		return
	}

	execPath, err := e.execs.ResolveExecutablePath()
	if err != nil {
		e.finishFailed(entry, model.ErrCodeBinaryNotFound, err.Error())
		return
	}

	workDir := e.workDirFor(job.ID)
	if err := platform.EnsureDir(workDir); err != nil {
		e.finishFailed(entry, model.ErrCodeSpawnFailed, "create work dir: "+err.Error())
		return
	}

	args := platform.BuildDownloadArgs(job.TargetID, workDir, creds.Username, creds.Secret)
	e.logger.Info("spawning downloader",
		"job", job.ID, "bin", execPath, "args", proc.RedactArgs(args))

	handle, err := e.controller.Spawn(execPath, args, nil)
	if err != nil {
		code := model.ErrCodeSpawnFailed
		if errors.Is(err, proc.ErrBinaryNotFound) {
			code = model.ErrCodeBinaryNotFound
		}
		os.RemoveAll(workDir)
		e.finishFailed(entry, code, err.Error())
		return
	}

	parser := e.newParser()
	tail := newStderrTail(stderrTailLines)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		e.pump(entry, job.ID, handle.Stdout(), parser.ParseStdout)
	}()
	go func() {
		defer pumps.Done()
		e.pump(entry, job.ID, handle.Stderr(), func(chunk []byte) []parse.Event {
			events := parser.ParseStderr(chunk)
			tail.add(events)
			return events
		})
	}()

	// Cancellation: cooperative signal first, forceful kill after the grace
	// window if the process is still alive.
	procDone := make(chan struct{})
	go func() {
		select {
		case <-procDone:
		case <-entry.cancelCh:
			if err := handle.Signal(proc.SignalGraceful); err != nil {
				e.logger.Warn("graceful signal", "job", job.ID, "err", err)
			}
			select {
			case <-procDone:
			case <-time.After(e.cfg.GracePeriod):
				if err := handle.Signal(proc.SignalForce); err != nil {
					e.logger.Warn("force kill", "job", job.ID, "err", err)
				}
			}
		}
	}()

	pumps.Wait()
	exitCode, waitErr := handle.Wait()
	close(procDone)

	for _, event := range parser.Flush() {
		e.publishEvent(job.ID, event)
	}

	canceled := false
	select {
	case <-entry.cancelCh:
		canceled = true
	default:
	}

	switch {
	case canceled:
		os.RemoveAll(workDir)
		job = entry.update(func(j *model.Job) {
			j.Status = model.JobStatusCanceled
			j.CompletedAt = time.Now().UTC()
		})
		e.publishEvent(job.ID, parse.Event{Kind: model.EventInfo, Message: "Job canceled"})
		e.publishEnd(job)
		e.persist(job)
		e.logger.Info("job canceled", "job", job.ID)

	case waitErr != nil:
		os.RemoveAll(workDir)
		e.finishFailed(entry, model.ErrCodeProcessExitedNonZero, "wait: "+waitErr.Error())

	case exitCode != 0:
		os.RemoveAll(workDir)
		message := tail.join()
		if message == "" {
			message = "process exited with nonzero status"
		}
		e.finishFailed(entry, model.ErrCodeProcessExitedNonZero, message)

	default:
		e.finalize(entry, workDir)
	}
}

// finalize runs the archiver and drives the job to its terminal state
func (e *Engine) finalize(entry *jobEntry, workDir string) {
	snap := entry.snapshot()

	result, err := e.archiver.Finalize(workDir, snap.SaveRoot, snap.Archive)
	if err != nil {
		os.RemoveAll(workDir)
		e.finishFailed(entry, model.ErrCodeArchiveFailed, err.Error())
		return
	}
	os.RemoveAll(workDir)

	job := entry.update(func(j *model.Job) {
		j.Status = model.JobStatusSuccess
		j.Progress = parse.MaxProgress
		j.ArchivePath = result.ArchivePath
		j.SizeBytes = result.SizeBytes
		j.CompletedAt = time.Now().UTC()
	})
	e.publishEvent(job.ID, parse.Event{Kind: model.EventMilestone, Message: "Job completed"})
	e.publishEnd(job)
	e.persist(job)
	e.logger.Info("job completed", "job", job.ID, "size", result.SizeBytes)
}

// finishFailed records the error on the job and terminates its stream. No
// error ever crosses the job boundary: the admission controller and other
// jobs are unaffected.
func (e *Engine) finishFailed(entry *jobEntry, code model.ErrorCode, message string) {
	job := entry.update(func(j *model.Job) {
		j.Status = model.JobStatusFailed
		j.ErrorCode = code
		j.ErrorMessage = message
		j.CompletedAt = time.Now().UTC()
	})
	e.publishEvent(job.ID, parse.Event{Kind: model.EventError, Message: message})
	e.publishEnd(job)
	e.persist(job)
	e.logger.Warn("job failed", "job", job.ID, "code", string(code), "err", message)
}

// pump reads one output stream to EOF, feeding chunks through the parser
// and publishing the resulting events.
func (e *Engine) pump(entry *jobEntry, jobID string, r io.Reader, parseChunk func([]byte) []parse.Event) {
	buf := make([]byte, pumpChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, event := range parseChunk(buf[:n]) {
				e.publishEvent(jobID, event)
				if event.Kind == model.EventProgress {
					entry.update(func(j *model.Job) {
						if event.Progress > j.Progress {
							j.Progress = event.Progress
						}
					})
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// publishEvent sequences a parsed event onto the job's log stream and
// mirrors it to the store.
func (e *Engine) publishEvent(jobID string, event parse.Event) {
	stored := e.bus.Publish(jobID, event.Kind, event.Message, event.Progress)
	if stored.Seq == 0 {
		return
	}
	e.persistEvents(jobID, []model.LogEvent{stored})
}

// publishEnd emits the terminal end event carrying the final status
func (e *Engine) publishEnd(job model.Job) {
	payload, err := json.Marshal(model.EndPayload{
		Status:       job.Status,
		ArchivePath:  job.ArchivePath,
		ErrorMessage: job.ErrorMessage,
	})
	if err != nil {
		payload = []byte(`{"status":"` + string(job.Status) + `"}`)
	}
	stored := e.bus.Publish(job.ID, model.EventEnd, string(payload), 0)
	if stored.Seq != 0 {
		e.persistEvents(job.ID, []model.LogEvent{stored})
	}
}

// stderrTail keeps the most recent stderr lines for error reporting
type stderrTail struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newStderrTail(limit int) *stderrTail {
	return &stderrTail{limit: limit}
}

func (t *stderrTail) add(events []parse.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, event := range events {
		t.lines = append(t.lines, event.Message)
		if len(t.lines) > t.limit {
			t.lines = t.lines[1:]
		}
	}
}

func (t *stderrTail) join() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
