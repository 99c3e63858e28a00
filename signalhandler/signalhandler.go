package signalhandler

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
)

var (
	mu       sync.Mutex
	cleanups []func()
)

// SetupHandler configures signal handling so an interrupted run still
// flushes pending state (hash cache, text cache) before exiting.
func SetupHandler() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			runCleanups()
			os.Exit(0)
		}
	}()
}

// RegisterCleanup adds a function to run on SIGINT/SIGTERM, in
// registration order.
func RegisterCleanup(fn func()) {
	mu.Lock()
	defer mu.Unlock()
	cleanups = append(cleanups, fn)
}

func runCleanups() {
	mu.Lock()
	fns := append(([]func())(nil), cleanups...)
	mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// GetOptimalProcs returns the optimal number of worker goroutines for the
// system. Image decoding through CGo misbehaves with too many goroutines,
// so leave headroom.
func GetOptimalProcs() int {
	numCPU := runtime.NumCPU()

	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}
