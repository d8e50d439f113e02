package model

import (
	"time"
)

// Job represents a single request to fetch and optionally archive a piece
// of content via the external downloader executable.
type Job struct {
	ID           string    `json:"id"`
	TargetID     string    `json:"targetId"`
	OwnerKey     string    `json:"ownerKey"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"` // 0.0 to 100.0, best effort
	SaveRoot     string    `json:"saveRoot"`
	Archive      bool      `json:"archive"`
	ArchivePath  string    `json:"archivePath,omitempty"`
	SizeBytes    int64     `json:"sizeBytes,omitempty"`
	ErrorCode    ErrorCode `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	CompletedAt  time.Time `json:"completedAt,omitzero"`
}

// Clone returns a copy of the job safe to hand to readers while the owning
// runner keeps mutating the original.
func (j *Job) Clone() Job {
	return *j
}
