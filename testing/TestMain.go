// Package testing prepares the process environment for package tests. Test
// files import it for its side effects only.
package testing

import (
	"os"
	stdtesting "testing"
)

var defaults = map[string]string{
	"AGORA_TEST_MODE": "1",
	"APP_ENV":         "test",
	"EVENT_TRANSPORT": "memory",
	"LOG_LEVEL":       "error",
}

func init() {
	for key, value := range defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}

// TestMain lets a package adopt these defaults without its own TestMain.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
