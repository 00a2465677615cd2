package shared

import (
	"os"
	"strings"
	"time"
)

const EnvDebugMode = "ZAPP_DEBUG_MODE"

// IsDebugMode checks if debug mode is enabled via environment variable
func IsDebugMode() bool {
	debugMode := strings.ToLower(os.Getenv(EnvDebugMode))
	return debugMode == "true" || debugMode == "1"
}

// Clock returns the current instant. Services take one so tests can move time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}
