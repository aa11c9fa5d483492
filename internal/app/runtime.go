package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// testModeEnv is set by the docflow/testing package so that binaries linked
// into tests never dial Postgres or Redis or bind a listener.
const testModeEnv = "DOCFLOW_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testModeFlag.Store(err == nil && on)
}

// InTestMode reports whether cmd/docflow and cmd/worker must return before
// opening connections. Any strconv.ParseBool truthy value enables it.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads DOCFLOW_TEST_MODE after the environment changed.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
