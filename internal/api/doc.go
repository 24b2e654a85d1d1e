// Package api defines the wire-format types of the control plane and the
// converters that build them from controller and ring-buffer snapshots.
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds and
// are omitted while unset. Parameter values keep their coerced Go types so a
// uint64 is rendered as a JSON number rather than a string.
package api
