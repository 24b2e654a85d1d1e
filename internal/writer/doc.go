// Package writer runs one acquisition: it connects the ingress adapter, the
// ring buffer, the storage sink, the notifier, and the control plane around a
// shared acquisition controller.
//
// Ingest and storage run on their own goroutines; the control plane serves on
// the caller's goroutine until storage has closed the output file. The exit
// path is ordered: storage drains the buffer, notifies upstream of the last
// pulse id, waits for format parameters (or a kill), closes the file, and
// only then cancels the run context. A watchdog bounds how long the final
// join may take.
package writer
