// ABOUTME: Tests for the webhook dedupe cache.
// ABOUTME: Validates duplicate detection, TTL expiry, size-bounded eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("msg-1"), "first delivery should not be a duplicate")
	assert.True(t, cache.CheckAndMark("msg-1"), "second delivery should be a duplicate")
}

func TestCheckAndMark_DistinctKeys(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("msg-1"))
	assert.False(t, cache.CheckAndMark("msg-2"))
	assert.False(t, cache.CheckAndMark("msg-3"))
	assert.Equal(t, 3, cache.Len())
}

func TestCheckAndMark_ExpiredKeyIsNew(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("expiring"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.CheckAndMark("expiring"), "expired key should be treated as new")
}

func TestEviction_OldestRemovedAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.CheckAndMark("a")
	cache.CheckAndMark("b")
	cache.CheckAndMark("c")
	cache.CheckAndMark("d") // evicts "a"

	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.CheckAndMark("a"), "evicted key should be new again")
	assert.True(t, cache.CheckAndMark("d"))
}

func TestClose_Idempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}

func TestCheckAndMark_Concurrent(t *testing.T) {
	cache := New(time.Minute, 1000)
	defer cache.Close()

	// For each key, exactly one of N concurrent deliveries should win.
	const keys = 50
	const workers = 4

	var mu sync.Mutex
	winners := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < keys; i++ {
				key := fmt.Sprintf("msg-%d", i)
				if !cache.CheckAndMark(key) {
					mu.Lock()
					winners[key]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for key, count := range winners {
		assert.Equal(t, 1, count, "key %s should have exactly one winner", key)
	}
	assert.Len(t, winners, keys)
}
