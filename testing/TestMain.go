// Package testing puts the portal into test mode for any test binary that
// imports it and holds fixtures shared across packages.
package testing

import (
	"io"
	"log/slog"
	"os"
)

// JWTSecret is the signing key test binaries run with.
const JWTSecret = "test-jwt-secret"

func init() {
	setDefault("PORTAL_TEST_MODE", "1")
	setDefault("JWT_SECRET", JWTSecret)
}

func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); !ok {
		_ = os.Setenv(key, value)
	}
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
