package engine

import (
	"context"
	"errors"

	"github.com/ytget/fetchd/internal/archive"
	"github.com/ytget/fetchd/internal/model"
)

// Credentials carry the already-decrypted secret material a job runs with
type Credentials struct {
	Username string
	Secret   string
}

// ErrCredentialNotFound is returned by resolvers when no credentials exist
// for the owner.
var ErrCredentialNotFound = errors.New("credentials not found")

// CredentialResolver resolves per-owner credentials. Resolution and
// decryption happen outside the engine.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, ownerKey string) (Credentials, error)
}

// ExecutableResolver locates the downloader binary for a job
type ExecutableResolver interface {
	ResolveExecutablePath() (string, error)
}

// Persister is the narrow durability contract the engine needs. All writes
// are idempotent so the engine may replay them.
type Persister interface {
	SaveJobSnapshot(ctx context.Context, job model.Job) error
	AppendLogEvents(ctx context.Context, jobID string, events []model.LogEvent) error
	ListActiveJobs(ctx context.Context) ([]model.Job, error)
	LoadLogEvents(ctx context.Context, jobID string, afterSeq uint64) ([]model.LogEvent, error)
}

// Finalizer moves and optionally compresses a finished job's output
type Finalizer interface {
	Finalize(tempDir, saveRoot string, archiveRequested bool) (archive.Result, error)
}

// AnonymousCredentials is a resolver for deployments without per-owner
// accounts: every job runs unauthenticated.
type AnonymousCredentials struct{}

// ResolveCredentials always succeeds with empty credentials
func (AnonymousCredentials) ResolveCredentials(ctx context.Context, ownerKey string) (Credentials, error) {
	return Credentials{}, nil
}

// NopPersister discards all writes; used when fetchd runs without a database
type NopPersister struct{}

func (NopPersister) SaveJobSnapshot(ctx context.Context, job model.Job) error {
	return nil
}

func (NopPersister) AppendLogEvents(ctx context.Context, jobID string, events []model.LogEvent) error {
	return nil
}

func (NopPersister) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	return nil, nil
}

func (NopPersister) LoadLogEvents(ctx context.Context, jobID string, afterSeq uint64) ([]model.LogEvent, error) {
	return nil, nil
}
