// Package logging configures the process-wide slog logger for docindex.
//
// Without --debug, logs go to stderr as text at the configured level. With
// --debug, JSON logs are also written to ~/.docindex/logs/docindex.log with
// size-based rotation. The MCP stdio server logs to the file only, since
// stdout carries the protocol stream.
package logging
