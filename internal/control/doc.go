// Package control serves the HTTP control plane of a running writer and
// provides the typed client the CLI uses to talk to it.
//
// The server only mutates the acquisition controller; stop and kill never
// shut the listener down, so parameters can still be submitted while the
// storage loop waits for them. The listener closes when the run context is
// cancelled.
package control
