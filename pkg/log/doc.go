// Package log provides structured, leveled logging for Courier components.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default. Entries carry ordered Field pairs and
// are rendered by a Formatter (text or JSON) into one or more Outputs.
// RedirectStdLog captures standard-library log output (Pebble's internal
// logging in particular) into the same pipeline.
package log
