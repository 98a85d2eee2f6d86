package app

import (
	"os"
	"sync"
)

// TestModeEnv set to "1" makes the binaries return before opening any connection.
const TestModeEnv = "CFDILAB_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	return testMode()
}
