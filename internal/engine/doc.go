package engine

// Package engine is the download job orchestration core: admission control
// with global and per-owner concurrency slots, the per-job runner state
// machine driving the external process, progress propagation into the job
// registry, and archiving of finished output. Each job is mutated by exactly
// one runner goroutine; the queue and slot counters are the only cross-job
// shared state and live behind a single mutex.
