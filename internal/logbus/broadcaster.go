package logbus

import (
	"sync"
	"time"

	"github.com/ytget/fetchd/internal/model"
)

// Buffer defaults
const (
	// DefaultBufferSize is how many recent events are kept per job for replay
	DefaultBufferSize = 500

	// DefaultSubscriberBuffer is the extra channel capacity a subscriber has
	// for live events beyond the replayed buffer
	DefaultSubscriberBuffer = 64

	// DefaultCloseGrace is how long subscriber channels stay open after the
	// terminal end event so clients can drain it
	DefaultCloseGrace = 2 * time.Second
)

// Broadcaster fans out log events to per-job subscriber channels. It owns
// event sequence numbers: every published event gets the next gapless seq
// for its job.
type Broadcaster struct {
	mu         sync.Mutex
	jobs       map[string]*jobLog
	bufferSize int
	subBuffer  int
	closeGrace time.Duration
}

type jobLog struct {
	mu      sync.Mutex
	events  []model.LogEvent
	nextSeq uint64
	subs    map[*subscriber]struct{}
	ended   bool
}

type subscriber struct {
	ch     chan model.LogEvent
	closed bool
}

// New creates a broadcaster with default buffer sizes
func New() *Broadcaster {
	return &Broadcaster{
		jobs:       make(map[string]*jobLog),
		bufferSize: DefaultBufferSize,
		subBuffer:  DefaultSubscriberBuffer,
		closeGrace: DefaultCloseGrace,
	}
}

// SetCloseGrace overrides the post-end flush grace period (used by tests)
func (b *Broadcaster) SetCloseGrace(grace time.Duration) {
	b.closeGrace = grace
}

// SetBufferSize overrides the per-job replay buffer size. Call before any
// job publishes.
func (b *Broadcaster) SetBufferSize(size int) {
	if size > 0 {
		b.bufferSize = size
	}
}

func (b *Broadcaster) jobLogFor(jobID string) *jobLog {
	b.mu.Lock()
	defer b.mu.Unlock()

	jl, ok := b.jobs[jobID]
	if !ok {
		jl = &jobLog{
			nextSeq: 1,
			subs:    make(map[*subscriber]struct{}),
		}
		b.jobs[jobID] = jl
	}
	return jl
}

// Restore seeds a job's buffer with events persisted before a restart so
// later publishes continue the recorded sequence. It only applies to a fresh
// job log; a log that has already published or ended is left untouched.
func (b *Broadcaster) Restore(jobID string, events []model.LogEvent) {
	if len(events) == 0 {
		return
	}

	jl := b.jobLogFor(jobID)
	jl.mu.Lock()
	defer jl.mu.Unlock()

	if jl.nextSeq != 1 || jl.ended {
		return
	}

	if len(events) > b.bufferSize {
		events = events[len(events)-b.bufferSize:]
	}
	jl.events = append(jl.events, events...)
	jl.nextSeq = events[len(events)-1].Seq + 1
}

// Publish appends an event to the job's buffer and pushes it to every live
// subscriber. It returns the sequenced event as stored. Publishing to a job
// that already ended is a no-op returning a zero event.
func (b *Broadcaster) Publish(jobID string, kind model.EventKind, message string, progress float64) model.LogEvent {
	jl := b.jobLogFor(jobID)

	jl.mu.Lock()
	defer jl.mu.Unlock()

	if jl.ended {
		return model.LogEvent{}
	}

	event := model.LogEvent{
		Seq:       jl.nextSeq,
		Kind:      kind,
		Message:   message,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
	jl.nextSeq++

	jl.events = append(jl.events, event)
	if len(jl.events) > b.bufferSize {
		jl.events = jl.events[1:]
	}

	for sub := range jl.subs {
		select {
		case sub.ch <- event:
		default:
			// Slow consumer: drop the subscriber, never block the publisher
			delete(jl.subs, sub)
			sub.closed = true
			close(sub.ch)
		}
	}

	if kind == model.EventEnd {
		jl.ended = true
		subs := jl.subs
		jl.subs = make(map[*subscriber]struct{})
		time.AfterFunc(b.closeGrace, func() {
			jl.mu.Lock()
			defer jl.mu.Unlock()
			for sub := range subs {
				if !sub.closed {
					sub.closed = true
					close(sub.ch)
				}
			}
		})
	}

	return event
}

// Subscribe attaches a new observer to a job's log stream. The returned
// channel first yields the buffered events in order, then live events; the
// cancel function detaches the subscriber and closes the channel. The
// replay-then-live ordering holds even when events are published
// concurrently with the subscription.
func (b *Broadcaster) Subscribe(jobID string) (<-chan model.LogEvent, func()) {
	jl := b.jobLogFor(jobID)

	jl.mu.Lock()
	defer jl.mu.Unlock()

	sub := &subscriber{
		ch: make(chan model.LogEvent, b.bufferSize+b.subBuffer),
	}

	// Replay under the job lock: no publish can interleave, so the buffered
	// events and subsequent live events form one gapless sequence. The
	// channel capacity always covers the bounded buffer.
	for _, event := range jl.events {
		sub.ch <- event
	}

	if jl.ended {
		sub.closed = true
		close(sub.ch)
		return sub.ch, func() {}
	}

	jl.subs[sub] = struct{}{}

	cancel := func() {
		jl.mu.Lock()
		defer jl.mu.Unlock()
		if _, ok := jl.subs[sub]; ok {
			delete(jl.subs, sub)
		}
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Events returns a copy of the job's current replay buffer
func (b *Broadcaster) Events(jobID string) []model.LogEvent {
	jl := b.jobLogFor(jobID)

	jl.mu.Lock()
	defer jl.mu.Unlock()

	out := make([]model.LogEvent, len(jl.events))
	copy(out, jl.events)
	return out
}

// Remove drops a job's buffer and disconnects any remaining subscribers.
// Called when the registry evicts a terminal job.
func (b *Broadcaster) Remove(jobID string) {
	b.mu.Lock()
	jl, ok := b.jobs[jobID]
	if ok {
		delete(b.jobs, jobID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	jl.mu.Lock()
	defer jl.mu.Unlock()
	for sub := range jl.subs {
		delete(jl.subs, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
}
