package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordLocksSerializePerRecord(t *testing.T) {
	locks := NewRecordLocks()
	counters := map[uint]int{1: 0, 2: 0}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		for _, id := range []uint{1, 2} {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				unlock := locks.Lock(id)
				defer unlock()

				mu.Lock()
				v := counters[id]
				mu.Unlock()
				mu.Lock()
				counters[id] = v + 1
				mu.Unlock()
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counters[1])
	assert.Equal(t, 50, counters[2])
	assert.Empty(t, locks.locks)
}
