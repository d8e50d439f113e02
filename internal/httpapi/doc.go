package httpapi

// Package httpapi is the HTTP transport over the job engine: REST endpoints
// for job lifecycle, a Server-Sent Events log stream, a WebSocket log stream,
// and owner-gated archive downloads.
