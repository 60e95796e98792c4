package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateULIDIncreases(t *testing.T) {
	prev := CreateULID()
	for i := 0; i < 100; i++ {
		id := CreateULID()
		require.Len(t, id, 26)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestCreateULIDConcurrentUniqueness(t *testing.T) {
	const goroutines, perGoroutine = 10, 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := CreateULID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestTime(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	at, err := Time(CreateULID())
	require.NoError(t, err)
	assert.False(t, at.Before(before))
	assert.WithinDuration(t, time.Now(), at, time.Second)

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
