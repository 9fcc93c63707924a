package app

import (
	"os"
	"sync"
)

var testMode = sync.OnceValue(func() bool {
	return os.Getenv("TRADEBOOKS_TEST_MODE") == "1"
})

// InTestMode reports whether the process should skip runtime side
// effects such as opening sockets and connections. The flag is read
// once; changing the environment mid-process has no effect.
func InTestMode() bool {
	return testMode()
}
