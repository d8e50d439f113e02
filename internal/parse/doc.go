package parse

// Package parse turns raw console output of the external downloader into
// typed domain events. Parsing is a swappable strategy behind the Parser
// interface so a different tool version can ship its own heuristics without
// touching the orchestration state machine.
