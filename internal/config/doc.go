// Package config loads, normalizes, and validates sfwriter configuration.
//
// It supplies defaults for every section, reads an optional TOML file, and
// honours environment overrides such as SFWRITER_API_TOKEN. The positional
// command line arguments are carried separately in Invocation so a single
// config file can serve many acquisitions.
//
// Always obtain settings through this package so downstream code receives
// trimmed values, canonical log formats, and clear validation errors.
package config
