package model

// Package model defines domain data structures used across fetchd: download
// jobs, structured log events, status enums, and the error-code taxonomy
// surfaced to API clients. Structures are designed for direct JSON encoding
// and explicit state transitions.
