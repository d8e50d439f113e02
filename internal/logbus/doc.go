package logbus

// Package logbus implements the per-job log broadcaster: an append-only,
// size-bounded buffer of recent events for replay, plus fan-out to live
// subscribers. Publishing never blocks on a slow reader; a subscriber that
// cannot keep up is dropped instead.
