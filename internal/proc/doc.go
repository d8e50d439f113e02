package proc

// Package proc is the platform-abstracted process primitive used by the job
// runner: spawn an external executable with piped output, deliver a
// cooperative or forceful termination signal, and wait for exit. Platform
// differences (process groups, signal support) live in build-tagged files so
// orchestration code never branches on the OS.
