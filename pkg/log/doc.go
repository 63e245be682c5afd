// Package log provides structured logging for Paddock built on zerolog.
// Call Init once at startup; packages obtain child loggers through
// WithComponent and the entity-scoped helpers.
package log
