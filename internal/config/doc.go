// Package config loads node configuration from defaults, an optional
// YAML file, an optional .env file and COORDSYNC_* environment variables,
// in that order of increasing precedence.
package config
