package model

import (
	"time"
)

// EventKind classifies a single log event produced while a job runs
type EventKind string

const (
	// EventInfo is an unclassified output line
	EventInfo EventKind = "info"

	// EventProgress carries a parsed completion percentage
	EventProgress EventKind = "progress"

	// EventMilestone marks a recognized phase change of the external tool
	EventMilestone EventKind = "milestone"

	// EventError is a line read from the process stderr or an internal error
	EventError EventKind = "error"

	// EventEnd is the final event of every job stream, success or not
	EventEnd EventKind = "end"
)

// LogEvent is one ordered unit of a job's live output. Seq is gapless and
// strictly increasing per job; the last event of a terminal job is EventEnd.
type LogEvent struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Progress  float64   `json:"progress,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EndPayload is the body of the terminal "end" event as framed on the wire.
type EndPayload struct {
	Status       JobStatus `json:"status"`
	ArchivePath  string    `json:"archivePath,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}
