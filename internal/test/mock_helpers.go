// Package test holds helpers shared by the package tests.
package test

import (
	"sync"
	"testing"
)

var (
	locksMu sync.Mutex
	locks   = map[any]*sync.Mutex{}
)

func lockFor(ptr any) *sync.Mutex {
	locksMu.Lock()
	defer locksMu.Unlock()

	mu, ok := locks[ptr]
	if !ok {
		mu = &sync.Mutex{}
		locks[ptr] = mu
	}
	return mu
}

// MockGlobal replaces *target with mock until the test ends. Tests mocking
// the same global are serialized, mocking it twice in one test deadlocks.
func MockGlobal[T any](t *testing.T, target *T, mock T) {
	t.Helper()

	mu := lockFor(target)
	mu.Lock()

	original := *target
	*target = mock

	t.Cleanup(func() {
		*target = original
		mu.Unlock()
	})
}
