// Package storage persists detector frames into a single container file.
//
// The container is a SQLite database holding one logical dataset per name:
// the raw image dataset and one scalar dataset per header field, each indexed
// by frame number. The first write to a dataset fixes its shape, dtype, and
// byte order. Format metadata is stored as typed attributes on group paths.
// An flock next to the output file keeps two writers off the same file.
package storage
