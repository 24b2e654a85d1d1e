// Package logging assembles the structured slog loggers used by the writer.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// attribute helpers and field keys shared by every component. Each component
// derives its logger with NewComponentLogger so log lines can be filtered by
// the ingest, storage, control, and notify paths. A no-op logger is provided
// for tests and wiring code that has no logger available.
package logging
