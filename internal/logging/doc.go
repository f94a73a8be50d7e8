// Package logging configures structured slog output for shelf.
//
// Logs are JSON lines written to a size-rotated file under ~/.shelf/logs/,
// optionally mirrored to stderr. The serve command logs to the file only,
// because stdout carries the MCP stream.
package logging
