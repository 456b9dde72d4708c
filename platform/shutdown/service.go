package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rohanthewiz/logger"
)

const gracePeriod = 15 * time.Second

// HookFunc is a teardown step. It receives the grace period so it can bound
// its own waits.
type HookFunc func(duration time.Duration) error

type shutdownHooks struct {
	hooks []HookFunc
	lock  sync.Mutex
}

var registry shutdownHooks

// RegisterHook adds a teardown step. Hooks run concurrently on shutdown, so
// each must be independent of the others.
func RegisterHook(fn HookFunc) {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	registry.hooks = append(registry.hooks, fn)
	logger.Debug("Registered shutdown hook", "count", len(registry.hooks))
}

// InitShutdownService installs the signal handler. On SIGINT or SIGTERM it
// fires all registered hooks and closes done once they complete or the grace
// period expires.
func InitShutdownService(done chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)

		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig.String())
		setShutdown()

		registry.lock.Lock()
		hooks := registry.hooks
		registry.lock.Unlock()

		logger.Info("Running shutdown hooks", "count", len(hooks), "grace_period", gracePeriod.String())

		wg := sync.WaitGroup{}
		for i, hook := range hooks {
			wg.Add(1)
			go func(it int, fn HookFunc) {
				defer wg.Done()
				if err := fn(gracePeriod); err != nil {
					logger.LogErr(err, "shutdown hook failed", "hook", it)
				}
			}(i, hook)
		}

		hooksDone := make(chan struct{})
		go func() {
			wg.Wait()
			close(hooksDone)
		}()

		select {
		case <-hooksDone:
			logger.Info("All shutdown hooks completed")
		case <-time.After(gracePeriod):
			logger.Warn("Shutdown hooks timed out", "grace_period", gracePeriod.String())
		}
	}()
}
