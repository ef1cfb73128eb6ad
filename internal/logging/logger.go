// Package logging provides a thin wrapper around zerolog.Logger used by
// both binaries, grounded on GoPassKeeper's internal/logger package.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New constructs a role-scoped structured logger writing JSON to stdout.
func New(role string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Str("role", role).
		Timestamp().
		Logger()
}

// Nop returns a logger that discards all output, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
