package archive

// Package archive finalizes a finished job's working directory: it
// normalizes tool-specific nesting, moves the content to its destination,
// measures it, and optionally stream-compresses it into a tar.gz archive.
// A failed archive attempt always deletes its own partial output.
