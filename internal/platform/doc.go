package platform

// Package platform contains OS and external-tooling glue: locating the
// downloader executable, building its command line, extracting target
// identifiers from free-form user input, and filesystem helpers.
