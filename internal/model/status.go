package model

// JobStatus represents the lifecycle state of a download job
type JobStatus string

const (
	// JobStatusQueued means the job is accepted and waiting for a free slot
	JobStatusQueued JobStatus = "queued"

	// JobStatusRunning means the external process has been dispatched
	JobStatusRunning JobStatus = "running"

	// JobStatusSuccess means the process exited cleanly and archiving (if
	// requested) completed
	JobStatusSuccess JobStatus = "success"

	// JobStatusFailed means the job ended with an error
	JobStatusFailed JobStatus = "failed"

	// JobStatusCanceled means the job was canceled by the caller
	JobStatusCanceled JobStatus = "canceled"
)

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// IsActive returns true if the job still holds or may acquire a slot
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// IsTerminal returns true once no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed || s == JobStatusCanceled
}
