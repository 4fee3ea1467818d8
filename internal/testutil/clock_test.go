package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	got := []int64{clock.Next(), clock.Next(), clock.Next()}
	assert.Equal(t, []int64{1, 2, 3}, got)
	assert.Equal(t, int64(3), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ZeroValueUsable(t *testing.T) {
	var clock DeterministicClock
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_Concurrent(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines, perG = 8, 250

	seen := make([][]int64, goroutines)
	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perG {
				seen[g] = append(seen[g], clock.Next())
			}
		}()
	}
	wg.Wait()

	all := make(map[int64]bool, goroutines*perG)
	for _, vals := range seen {
		for i, v := range vals {
			if i > 0 {
				assert.Greater(t, v, vals[i-1], "values from one goroutine must increase")
			}
			all[v] = true
		}
	}
	assert.Len(t, all, goroutines*perG, "every value handed out once")
	assert.Equal(t, int64(goroutines*perG), clock.Current())
}
