package sync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPathLocks_SerializesSamePath(t *testing.T) {
	locks := NewPathLocks()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("a.txt")
			defer unlock()

			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Zero(t, locks.Held())
}

func TestPathLocks_DistinctPathsDoNotBlock(t *testing.T) {
	locks := NewPathLocks()

	unlockA := locks.Lock("a.txt")
	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("b.txt")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		assert.FailNow(t, "lock on a distinct path blocked")
	}

	assert.Equal(t, 1, locks.Held())
	unlockA()
	assert.Zero(t, locks.Held())
}
