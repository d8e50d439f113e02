package model

import (
	"errors"
)

// ErrorCode identifies why a job failed. Codes are stable API strings.
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "InvalidInput"
	ErrCodeCredentialNotFound   ErrorCode = "CredentialNotFound"
	ErrCodeBinaryNotFound       ErrorCode = "BinaryNotFound"
	ErrCodeSpawnFailed          ErrorCode = "SpawnFailed"
	ErrCodeProcessExitedNonZero ErrorCode = "ProcessExitedNonZero"
	ErrCodeArchiveFailed        ErrorCode = "ArchiveFailed"
)

// ErrNotFound is returned when a job id does not resolve to any known job
var ErrNotFound = errors.New("job not found")

// ErrInvalidInput rejects malformed CreateJob requests before a job exists
var ErrInvalidInput = errors.New("invalid input")
