package vacuum

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBarrierPrepareWaitsForEveryWorker(t *testing.T) {
	b := NewBarrier(2, nil)
	b.Start(0)
	b.Start(1)

	released := make(chan error, 1)
	go func() {
		released <- b.ArrivePrepared(context.Background(), 0)
	}()

	select {
	case <-released:
		t.Fatal("prepare barrier released before every worker arrived")
	case <-time.After(50 * time.Millisecond):
	}
	phase, round := b.Phase(0)
	assert.Equal(t, WorkerPrepared, phase)
	assert.Equal(t, uint32(0), round)

	require.NoError(t, b.ArrivePrepared(context.Background(), 1))
	require.NoError(t, <-released)
	phase, _ = b.Phase(0)
	assert.Equal(t, WorkerReclaiming, phase)
}

func TestBarrierCompleteWorkerIsNotWaitedFor(t *testing.T) {
	closed := 0
	b := NewBarrier(3, func() { closed++ })
	for i := 0; i < 3; i++ {
		b.Start(i)
	}
	b.Complete(1)
	b.Complete(2)

	// the only worker left passes both barriers alone
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.ArrivePrepared(ctx, 0))
	require.NoError(t, b.ArriveFinished(ctx, 0))
	assert.Equal(t, 1, closed)

	phase, round := b.Phase(0)
	assert.Equal(t, WorkerScanning, phase)
	assert.Equal(t, uint32(1), round)
}

func TestBarrierCompleteWhileOthersWait(t *testing.T) {
	b := NewBarrier(2, nil)
	b.Start(0)
	b.Start(1)

	released := make(chan error, 1)
	go func() {
		released <- b.ArrivePrepared(context.Background(), 0)
	}()
	time.Sleep(20 * time.Millisecond)
	// worker 1 runs out of pages instead of arriving
	b.Complete(1)

	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("prepare barrier was not released by Complete")
	}
}

// one worker completes early and the other three go through two cycles together
func TestBarrierEarlyCompletion(t *testing.T) {
	var closed atomic.Int32
	b := NewBarrier(4, func() { closed.Add(1) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	reclaiming := make(map[uint32]int)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 4; i++ {
		id := i
		g.Go(func() error {
			b.Start(id)
			if id == 0 {
				b.Complete(id)
				return nil
			}
			for r := 0; r < 2; r++ {
				if err := b.ArrivePrepared(gctx, id); err != nil {
					return err
				}
				_, round := b.Phase(id)
				mu.Lock()
				reclaiming[round]++
				mu.Unlock()
				if err := b.ArriveFinished(gctx, id); err != nil {
					return err
				}
			}
			b.Complete(id)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, b.AwaitAllComplete(ctx))

	assert.Equal(t, int32(2), closed.Load())
	assert.Equal(t, map[uint32]int{0: 3, 1: 3}, reclaiming)
}

// stores are emptied exactly once per cycle, after every worker has finished reclaiming
func TestBarrierCycleClose(t *testing.T) {
	const workers = 3
	const rounds = 5
	var mu sync.Mutex
	finished := 0
	closeSawAll := true
	b := NewBarrier(workers, func() {
		mu.Lock()
		defer mu.Unlock()
		if finished != workers {
			closeSawAll = false
		}
		finished = 0
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			b.Start(id)
			for r := 0; r < rounds; r++ {
				if err := b.ArrivePrepared(ctx, id); err != nil {
					return err
				}
				// the rounds of workers differ by at most one
				for j := 0; j < workers; j++ {
					_, round := b.Phase(j)
					_, own := b.Phase(id)
					if round+1 < own || own+1 < round {
						t.Errorf("worker %d in round %d, worker %d in round %d", id, own, j, round)
					}
				}
				mu.Lock()
				finished++
				mu.Unlock()
				if err := b.ArriveFinished(ctx, id); err != nil {
					return err
				}
			}
			b.Complete(id)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.True(t, closeSawAll)
}

func TestBarrierCanceled(t *testing.T) {
	b := NewBarrier(2, nil)
	b.Start(0)
	b.Start(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.ArrivePrepared(ctx, 0)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled worker is still waiting")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, b.AwaitAllComplete(ctx2), context.DeadlineExceeded)
}

func TestBarrierOwner(t *testing.T) {
	b := NewBarrier(3, nil)
	for i := 0; i < 3; i++ {
		b.Start(i)
	}
	assert.Equal(t, 0, b.Owner(0))
	assert.Equal(t, 1, b.Owner(1))
	assert.Equal(t, 2, b.Owner(5))

	b.Complete(1)
	assert.Equal(t, 2, b.Owner(1))
	b.Complete(2)
	assert.Equal(t, 0, b.Owner(1))
	assert.Equal(t, 0, b.Owner(2))
}

func TestWorkerPhaseString(t *testing.T) {
	assert.Equal(t, "prepared", WorkerPrepared.String())
	assert.Equal(t, "complete", WorkerComplete.String())
	assert.Equal(t, "unknown", WorkerPhase(100).String())
}
