/*
Relation level lock manager (heavyweight lock in postgres).

Only the modes vacuum interacts with are defined:
- RowExclusive: taken by insert/update/delete
- ShareUpdateExclusive: taken by vacuum itself. two vacuums on one relation conflict.
- AccessExclusive: taken by vacuum to truncate the relation. conflicts with everything.

Locks are held by an Owner. Modes held by the same owner never conflict with each other,
so vacuum can take AccessExclusive on top of its own ShareUpdateExclusive.

see https://github.com/postgres/postgres/blob/1cd8185f3ddd1ed5edb3d7e6d61af3bf20d4734d/src/backend/storage/lmgr/README#L1
*/
package lmgr

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/HayatoShiba/ppvacuum/common"
)

// Mode is lock mode
type Mode int

const (
	RowExclusive Mode = iota
	ShareUpdateExclusive
	AccessExclusive

	modeNum
)

// conflicts[a] has bit b set when mode a conflicts with mode b
// see https://github.com/postgres/postgres/blob/1cd8185f3ddd1ed5edb3d7e6d61af3bf20d4734d/src/backend/storage/lmgr/lock.c#L65
var conflicts = [modeNum]uint8{
	RowExclusive:         1 << AccessExclusive,
	ShareUpdateExclusive: 1<<ShareUpdateExclusive | 1<<AccessExclusive,
	AccessExclusive:      1<<RowExclusive | 1<<ShareUpdateExclusive | 1<<AccessExclusive,
}

func (mode Mode) conflictsWith(other Mode) bool {
	return conflicts[mode]&(1<<other) != 0
}

func (mode Mode) String() string {
	switch mode {
	case RowExclusive:
		return "RowExclusiveLock"
	case ShareUpdateExclusive:
		return "ShareUpdateExclusiveLock"
	case AccessExclusive:
		return "AccessExclusiveLock"
	}
	return "UnknownLock"
}

// Owner identifies who holds a lock
type Owner uint64

var lastOwner atomic.Uint64

// NewOwner returns an owner nobody else has
func NewOwner() Owner {
	return Owner(lastOwner.Add(1))
}

type relationLock struct {
	// how many times each owner holds each mode
	held map[Owner]*[modeNum]int
	// how many goroutines are waiting for each mode
	waiting [modeNum]int
}

// Manager is relation lock manager
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond
	rels map[common.Relation]*relationLock
}

// NewManager initializes lock manager
func NewManager() *Manager {
	m := &Manager{
		rels: make(map[common.Relation]*relationLock),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// the caller must hold m.mu
func (m *Manager) relation(rel common.Relation) *relationLock {
	rl, ok := m.rels[rel]
	if !ok {
		rl = &relationLock{held: make(map[Owner]*[modeNum]int)}
		m.rels[rel] = rl
	}
	return rl
}

// grantable checks whether owner can take mode now
func (rl *relationLock) grantable(owner Owner, mode Mode) bool {
	for o, counts := range rl.held {
		if o == owner {
			continue
		}
		for other := Mode(0); other < modeNum; other++ {
			if counts[other] > 0 && mode.conflictsWith(other) {
				return false
			}
		}
	}
	return true
}

func (rl *relationLock) grant(owner Owner, mode Mode) {
	counts, ok := rl.held[owner]
	if !ok {
		counts = &[modeNum]int{}
		rl.held[owner] = counts
	}
	counts[mode]++
}

// ConditionalLock takes the lock if it is grantable right now
// see https://github.com/postgres/postgres/blob/1cd8185f3ddd1ed5edb3d7e6d61af3bf20d4734d/src/backend/storage/lmgr/lmgr.c#L151
func (m *Manager) ConditionalLock(rel common.Relation, owner Owner, mode Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rl := m.relation(rel)
	if !rl.grantable(owner, mode) {
		return false
	}
	rl.grant(owner, mode)
	return true
}

// Lock waits until the lock is granted or ctx is done
// while waiting, the caller is visible to HasWaiters
func (m *Manager) Lock(ctx context.Context, rel common.Relation, owner Owner, mode Mode) error {
	// wake up the waiter below when ctx is done
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	rl := m.relation(rel)
	rl.waiting[mode]++
	defer func() { rl.waiting[mode]-- }()
	for !rl.grantable(owner, mode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.cond.Wait()
	}
	rl.grant(owner, mode)
	return nil
}

// Unlock releases one hold of the mode
func (m *Manager) Unlock(rel common.Relation, owner Owner, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rl := m.relation(rel)
	counts, ok := rl.held[owner]
	if !ok || counts[mode] == 0 {
		panic("unlock of a relation lock which is not held")
	}
	counts[mode]--
	if *counts == ([modeNum]int{}) {
		delete(rl.held, owner)
	}
	m.cond.Broadcast()
}

// HasWaiters checks whether someone is waiting for a mode which conflicts with the held mode
// see https://github.com/postgres/postgres/blob/1cd8185f3ddd1ed5edb3d7e6d61af3bf20d4734d/src/backend/storage/lmgr/lock.c#L640
func (m *Manager) HasWaiters(rel common.Relation, held Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rl := m.relation(rel)
	for mode := Mode(0); mode < modeNum; mode++ {
		if rl.waiting[mode] > 0 && held.conflictsWith(mode) {
			return true
		}
	}
	return false
}
