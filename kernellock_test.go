package sched

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKernelLock_TryLockExclusion(t *testing.T) {
	var k kernelLock
	require.True(t, k.tryLock())
	require.False(t, k.tryLock(), "a second tryLock while held must fail")
	k.unlock()
	require.True(t, k.tryLock(), "tryLock must succeed again after unlock")
}

func TestKernelLock_LockBlocksUntilUnlocked(t *testing.T) {
	var k kernelLock
	p := &fakePlatform{}

	k.lock(p)
	require.Equal(t, 1, p.enableCalls)
	require.Equal(t, 1, p.restoreCalls)

	acquired := make(chan struct{})
	go func() {
		k.lock(p)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock() should not have acquired while first holder has it")
	default:
	}

	k.unlock()
	<-acquired
	k.unlock()
}

func TestKernelLock_OnlyOneHolderAtATime(t *testing.T) {
	var k kernelLock
	p := &fakePlatform{}

	const goroutines = 16
	var holders int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.lock(p)
			mu.Lock()
			holders++
			current := holders
			mu.Unlock()
			require.Equal(t, 1, current, "more than one goroutine held the kernel lock concurrently")
			mu.Lock()
			holders--
			mu.Unlock()
			k.unlock()
		}()
	}
	wg.Wait()
}
