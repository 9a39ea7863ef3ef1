package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	assert := assert.New(t)
	r := NewRegistry()

	assert.True(r.TryAcquire("https://example.com/a"))
	assert.False(r.TryAcquire("https://example.com/a"), "second acquire must fail while held")
	assert.True(r.Held("https://example.com/a"))
	assert.True(r.TryAcquire("https://example.com/b"), "distinct keys are independent")

	r.Release("https://example.com/a")
	assert.False(r.Held("https://example.com/a"))
	assert.True(r.TryAcquire("https://example.com/a"))

	// Releasing an unheld key is harmless.
	r.Release("never-acquired")
}

func TestRegistryConcurrentSingleWinner(t *testing.T) {
	r := NewRegistry()
	const goroutines = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire("contended") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
