// Package logging wraps log/slog with the attributes the replication
// packages attach to every line: the node id and the component name.
// Logging can be switched off entirely, in which case a discarding
// handler is installed.
package logging
