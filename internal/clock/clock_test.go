package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)

	assert.Equal(t, start, m.Now())

	m.Advance(150 * time.Millisecond)
	assert.Equal(t, start.Add(150*time.Millisecond), m.Now())

	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestSequence_Next(t *testing.T) {
	tests := []struct {
		name          string
		expectedValue int64
	}{
		{"First", 1},
		{"Second", 2},
		{"Third", 3},
	}

	seq := NewSequence(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedValue, seq.Next())
			assert.Equal(t, tt.expectedValue, seq.Current())
		})
	}
}

func TestSequence_Observe(t *testing.T) {
	tests := []struct {
		name     string
		start    int64
		seen     int64
		expected int64
	}{
		{name: "seen greater than local", start: 5, seen: 10, expected: 11},
		{name: "seen less than local", start: 15, seen: 10, expected: 16},
		{name: "seen equal", start: 3, seen: 3, expected: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := NewSequence(tt.start)
			seq.Observe(tt.seen)
			assert.Equal(t, tt.expected, seq.Next())
		})
	}
}

func TestSequence_Concurrent(t *testing.T) {
	seq := NewSequence(0)

	const goroutines = 50
	const perGoroutine = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				v := seq.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "every value must be unique")
	assert.Equal(t, int64(goroutines*perGoroutine), seq.Current())
}
