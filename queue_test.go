package sched

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(8)
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		require.True(t, q.Enqueue(func() { order = append(order, i) }))
	}

	for i := 0; i < 5; i++ {
		task, ok := q.Dequeue()
		require.True(t, ok)
		task()
	}

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_EmptyDequeue(t *testing.T) {
	q := NewQueue(4)
	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestQueue_CapacityRoundsUpToPowerOfTwo(t *testing.T) {
	q := NewQueue(5)
	require.Len(t, q.slots, 8)
}

func TestQueue_FullEnqueueFails(t *testing.T) {
	q := NewQueue(2) // rounds to 2
	require.True(t, q.Enqueue(func() {}))
	require.True(t, q.Enqueue(func() {}))
	require.False(t, q.Enqueue(func() {}), "third enqueue on a capacity-2 queue must fail")
}

func TestQueue_LenAndEmpty(t *testing.T) {
	q := NewQueue(4)
	require.True(t, q.Empty())
	require.Equal(t, 0, q.Len())

	q.Enqueue(func() {})
	q.Enqueue(func() {})
	require.False(t, q.Empty())
	require.Equal(t, 2, q.Len())

	q.Dequeue()
	require.Equal(t, 1, q.Len())
}

func TestQueue_ConcurrentMPMC_NoLossNoDuplication(t *testing.T) {
	const (
		producers  = 8
		perProducer = 500
		total      = producers * perProducer
	)
	q := NewQueue(1024)

	var produced atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(func() { produced.Add(1) }) {
					// queue momentarily full; spin until a consumer drains.
				}
			}
		}()
	}

	var consumed atomic.Int64
	done := make(chan struct{})
	go func() {
		for consumed.Load() < int64(total) {
			if task, ok := q.Dequeue(); ok {
				task()
				consumed.Add(1)
			}
		}
		close(done)
	}()

	wg.Wait()
	<-done

	require.Equal(t, int64(total), produced.Load())
	require.Equal(t, int64(total), consumed.Load())
	require.True(t, q.Empty())
}
