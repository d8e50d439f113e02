package parse

import (
	"github.com/ytget/fetchd/internal/model"
)

// Event is a single classified output line before it is sequenced and
// published to the log broadcaster.
type Event struct {
	Kind     model.EventKind
	Message  string
	Progress float64 // set for EventProgress only
}

// Parser consumes raw output chunks of arbitrary size and emits complete,
// classified lines. Implementations must buffer partial lines across chunk
// boundaries. A Parser instance belongs to exactly one job and may keep
// per-job state (e.g. the progress high-water mark).
type Parser interface {
	// ParseStdout classifies a chunk read from the process stdout
	ParseStdout(chunk []byte) []Event

	// ParseStderr classifies a chunk read from the process stderr
	ParseStderr(chunk []byte) []Event

	// Flush emits any buffered partial line once the stream is exhausted
	Flush() []Event
}
