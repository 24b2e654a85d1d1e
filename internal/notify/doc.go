// Package notify tells the upstream stream source which pulse ids bound an
// acquisition.
//
// The start notification is fire-and-forget so the storage loop never waits
// on it; the end notification is synchronous so it lands before the process
// exits. Both are best effort: failures are logged and never abort a run.
// With no address configured a no-op notifier is used.
package notify
