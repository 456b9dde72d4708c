// Package shutdown coordinates graceful teardown. Subsystems register hooks
// at startup; when a termination signal arrives the hooks run concurrently
// under a grace period, after which the process exits regardless. A global
// flag lets request paths refuse new work while teardown is in progress.
package shutdown

import (
	"os"
	"sync"
)

var (
	isShutdown bool
	mu         sync.RWMutex
)

// InProgress reports whether a shutdown has been initiated
func InProgress() bool {
	mu.RLock()
	defer mu.RUnlock()
	return isShutdown
}

// setShutdown sets the shutdown flag. Agent subprocesses inherit the
// environment variable so they can check it too.
func setShutdown() {
	mu.Lock()
	isShutdown = true
	mu.Unlock()
	_ = os.Setenv("SHUTDOWN", "true")
}
