package app

import (
	"os"
	"sync"
	"testing"
)

const testModeEnv = "AGORA_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1" || testing.Testing()
})

// InTestMode reports whether the binaries run under go test, in which case
// main returns before touching Postgres, Redis or the network.
func InTestMode() bool {
	return testMode()
}
