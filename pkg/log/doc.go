// Package log wraps zerolog with a process-wide logger and a helper for
// attaching the component context field.
package log
