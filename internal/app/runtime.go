package app

import (
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type runtimeFlags struct {
	TestMode bool `envconfig:"PORTAL_TEST_MODE"`
}

// SkipStartup reports whether binary must exit before dialing Postgres,
// Redis or Kafka. It is true under PORTAL_TEST_MODE.
func SkipStartup(binary string) bool {
	var flags runtimeFlags
	if err := envconfig.Process("", &flags); err != nil || !flags.TestMode {
		return false
	}
	slog.Default().Info("test mode detected, skipping startup", slog.String("binary", binary))
	return true
}
