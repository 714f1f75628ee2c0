/*
Barrier synchronizes parallel workers at the boundaries of reclaim cycles.

Each worker has a phase and a round in the shared table:

	Startup -> Scanning -> Prepared -> Reclaiming -> Finished -> Scanning (round + 1) ... -> Complete

- prepare barrier: a worker enters Reclaiming only after every worker has reached Prepared (or later) in the same round,
  or is Complete. index vacuum reads the stores of all workers, so nobody may still be appending to one.
- finish barrier: a worker goes back to Scanning only after every worker has reached Finished in the same round,
  or is already scanning the next round, or is Complete. the worker whose arrival releases the barrier empties every store.

A Complete worker never arrives again, and it is counted separately so that no barrier waits for it.
A worker released from a finish barrier may reach the next prepare barrier, but cannot pass it
until every straggler has left the finish barrier, so rounds never differ by more than one.
*/
package vacuum

import (
	"context"
	"sync"
)

// WorkerPhase is the phase of a parallel worker
type WorkerPhase int

const (
	WorkerStartup WorkerPhase = iota
	WorkerScanning
	WorkerPrepared
	WorkerReclaiming
	WorkerFinished
	WorkerComplete
)

func (p WorkerPhase) String() string {
	switch p {
	case WorkerStartup:
		return "startup"
	case WorkerScanning:
		return "scanning"
	case WorkerPrepared:
		return "prepared"
	case WorkerReclaiming:
		return "reclaiming"
	case WorkerFinished:
		return "finished"
	case WorkerComplete:
		return "complete"
	}
	return "unknown"
}

type workerSlot struct {
	phase WorkerPhase
	round uint32
}

// Barrier is the phase table shared by parallel workers
type Barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []workerSlot
	// onCycleClose is called by the worker releasing a finish barrier, with the mutex held
	onCycleClose func()
}

// NewBarrier initializes the table for n workers in Startup phase
func NewBarrier(n int, onCycleClose func()) *Barrier {
	b := &Barrier{
		slots:        make([]workerSlot, n),
		onCycleClose: onCycleClose,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Workers returns the number of workers
func (b *Barrier) Workers() int {
	return len(b.slots)
}

// Start moves the worker into Scanning
func (b *Barrier) Start(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[id].phase = WorkerScanning
	b.cond.Broadcast()
}

// ArrivePrepared waits for the prepare barrier of the worker's round, then moves the worker into Reclaiming
func (b *Barrier) ArrivePrepared(ctx context.Context, id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.slots[id]
	s.phase = WorkerPrepared
	round := s.round
	b.cond.Broadcast()
	if err := b.waitLocked(ctx, func() bool { return b.preparedLocked(round) }); err != nil {
		return err
	}
	s.phase = WorkerReclaiming
	return nil
}

// ArriveFinished waits for the finish barrier of the worker's round, then moves the worker into Scanning of the next round
func (b *Barrier) ArriveFinished(ctx context.Context, id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.slots[id]
	s.phase = WorkerFinished
	round := s.round
	if b.finishedLocked(round) && b.onCycleClose != nil {
		b.onCycleClose()
	}
	b.cond.Broadcast()
	if err := b.waitLocked(ctx, func() bool { return b.finishedLocked(round) }); err != nil {
		return err
	}
	s.phase = WorkerScanning
	s.round++
	return nil
}

// Complete marks the worker done. it never arrives at barriers again
func (b *Barrier) Complete(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[id].phase = WorkerComplete
	b.cond.Broadcast()
}

// AwaitAllComplete waits until every worker is Complete
func (b *Barrier) AwaitAllComplete(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waitLocked(ctx, func() bool {
		for _, s := range b.slots {
			if s.phase != WorkerComplete {
				return false
			}
		}
		return true
	})
}

/*
Owner returns the worker which vacuums index i in the current round.
it is i mod workers, or the next worker which is not Complete.
Complete workers cannot change between prepare and finish barriers, so every worker agrees on the owner.
*/
func (b *Barrier) Owner(i int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.slots)
	for k := 0; k < n; k++ {
		id := (i + k) % n
		if b.slots[id].phase != WorkerComplete {
			return id
		}
	}
	return i % n
}

// Phase returns the phase and round of the worker
func (b *Barrier) Phase(id int) (WorkerPhase, uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[id].phase, b.slots[id].round
}

// preparedLocked checks every worker has reached the prepare barrier of round
func (b *Barrier) preparedLocked(round uint32) bool {
	for _, s := range b.slots {
		switch {
		case s.phase == WorkerComplete:
		case s.round == round && (s.phase == WorkerPrepared || s.phase == WorkerReclaiming || s.phase == WorkerFinished):
		default:
			return false
		}
	}
	return true
}

// finishedLocked checks every worker has reached the finish barrier of round
func (b *Barrier) finishedLocked(round uint32) bool {
	for _, s := range b.slots {
		switch {
		case s.phase == WorkerComplete:
		case s.round == round && s.phase == WorkerFinished:
		case s.round == round+1 && (s.phase == WorkerScanning || s.phase == WorkerPrepared):
		default:
			return false
		}
	}
	return true
}

// waitLocked waits on the condition variable until released returns true or ctx is done
// the caller must hold b.mu
func (b *Barrier) waitLocked(ctx context.Context, released func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	for !released() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	return nil
}
