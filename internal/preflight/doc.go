// Package preflight provides readiness checks run before an acquisition
// starts: the output location, free space, the stream address, and the
// upstream notification endpoint.
//
// Required checks gate startup; a writer that cannot create its output file
// must fail before it connects to the stream. Advisory checks are logged and
// the run proceeds.
package preflight
