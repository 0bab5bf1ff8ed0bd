package indexer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIndexLock_ConcurrentAcquisition tests IndexLock behavior under concurrent access.
func TestIndexLock_ConcurrentAcquisition(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{
			name: "TryAcquire fails when lock is held",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				require.True(t, lock.TryAcquire(), "First TryAcquire should succeed")
				assert.True(t, lock.Held())
				assert.False(t, lock.TryAcquire(), "Second TryAcquire should fail while lock is held")
				lock.Release()
				assert.False(t, lock.Held())
				assert.True(t, lock.TryAcquire(), "Lock should be available after Release")
			},
		},
		{
			name: "Concurrent goroutines attempting acquisition",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				const numGoroutines = 100

				acquired := make([]bool, numGoroutines)
				var wg sync.WaitGroup
				wg.Add(numGoroutines)
				for i := 0; i < numGoroutines; i++ {
					go func(idx int) {
						defer wg.Done()
						acquired[idx] = lock.TryAcquire()
					}(i)
				}
				wg.Wait()

				successCount := 0
				for _, success := range acquired {
					if success {
						successCount++
					}
				}
				assert.Equal(t, 1, successCount, "Exactly one goroutine should acquire the lock")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

func TestProjectLocks(t *testing.T) {
	locks := NewProjectLocks()
	a := locks.For("a")
	assert.Same(t, a, locks.For("a"))
	assert.NotSame(t, a, locks.For("b"))
}
