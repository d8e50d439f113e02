package store

// Package store persists job snapshots and log events in SQLite. The engine
// treats it as a narrow CRUD collaborator; all writes are idempotent so the
// engine can safely retry or replay them.
