package qsbr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testMutexMutualExclusion(t *testing.T, m Locker) {
	var counter int64
	var wg sync.WaitGroup
	const goroutines = 20
	const iterations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				unlock := m.Lock()
				counter++ // only safe if the lock is genuinely exclusive
				unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(goroutines*iterations), counter)
}

func TestBlockingMutexMutualExclusion(t *testing.T) {
	testMutexMutualExclusion(t, newBlockingMutex())
}

func TestSpinMutexMutualExclusion(t *testing.T) {
	testMutexMutualExclusion(t, newSpinMutex())
}

func TestBlockingMutexContendedAcquirerBlocks(t *testing.T) {
	m := newBlockingMutex()
	unlock := m.Lock()

	acquired := make(chan struct{})
	go func() {
		u := m.Lock()
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("contended Lock returned before the holder released it")
	case <-time.After(30 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("contended Lock never returned after release")
	}
}

func TestSpinMutexContendedAcquirerWaits(t *testing.T) {
	m := newSpinMutex()
	var state int32
	unlock := m.Lock()
	atomic.StoreInt32(&state, 1)

	done := make(chan struct{})
	go func() {
		u := m.Lock()
		atomic.StoreInt32(&state, 2)
		u()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&state))
	unlock()
	<-done
	assert.Equal(t, int32(2), atomic.LoadInt32(&state))
}
