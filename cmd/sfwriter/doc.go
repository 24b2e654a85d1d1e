// Package main hosts the sfwriter entrypoint and command graph.
//
// Invoked with six positional arguments the binary runs one acquisition:
// it receives detector frames from a stream, writes them to the output file,
// and serves the HTTP control plane on the given port until the run ends.
// The status, stats, stop, kill, params, and set subcommands are thin clients
// of that control plane; config scaffolds and validates configuration files.
package main
