// Package refcount implements the Reference Counter (spec §4.3): three
// disjoint process-local counters per inode - open handles, a modified
// flag, and a fork flag - guarding against both leaked opens and silent
// overflow/underflow, split out as its own standalone table rather than
// embedded in the vaults that use it.
package refcount

import (
	"sync"

	"github.com/ovnet/fedvault/internal/vaulterr"
)

type counters struct {
	refCount  uint64
	modTrack  uint64
	forkTrack uint64
}

// Table is a process-local counting map over inodes.
type Table struct {
	mu    sync.Mutex
	byIno map[uint64]*counters
}

// New creates an empty reference-count table.
func New() *Table {
	return &Table{byIno: make(map[uint64]*counters)}
}

func (t *Table) entry(inode uint64) *counters {
	c, ok := t.byIno[inode]
	if !ok {
		c = &counters{}
		t.byIno[inode] = c
	}
	return c
}

// Incf increments the named counter for inode. Only ref_count can overflow
// in practice, but all three are guarded (spec §4.3).
func (t *Table) Incf(inode uint64, which Counter) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.entry(inode)
	v := c.get(which)
	if v == ^uint64(0) {
		return vaulterr.U64Overflow
	}
	c.set(which, v+1)
	return nil
}

// Decf decrements the named counter for inode, failing if it is already
// zero (spec §4.3).
func (t *Table) Decf(inode uint64, which Counter) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.entry(inode)
	v := c.get(which)
	if v == 0 {
		return vaulterr.U64Underflow
	}
	c.set(which, v-1)
	return nil
}

// Count returns the current value of the named counter for inode.
func (t *Table) Count(inode uint64, which Counter) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.byIno[inode]; ok {
		return c.get(which)
	}
	return 0
}

// Nonzero reports whether the named counter for inode is non-zero.
func (t *Table) Nonzero(inode uint64, which Counter) bool {
	return t.Count(inode, which) != 0
}

// Zero resets the named counter for inode to zero. Used after a version is
// committed on close (mod_track) or after a session ends (fork_track
// persists across opens by design - only ref_count and mod_track reset here
// unless the caller asks otherwise).
func (t *Table) Zero(inode uint64, which Counter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.byIno[inode]; ok {
		c.set(which, 0)
	}
}

// Forget drops all counters for inode, used once ref_count has returned to
// zero and no further bookkeeping is needed.
func (t *Table) Forget(inode uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byIno, inode)
}

// Counter selects which of the three disjoint counters an operation targets.
type Counter int

const (
	RefCount Counter = iota
	ModTrack
	ForkTrack
)

func (c *counters) get(which Counter) uint64 {
	switch which {
	case RefCount:
		return c.refCount
	case ModTrack:
		return c.modTrack
	case ForkTrack:
		return c.forkTrack
	}
	return 0
}

func (c *counters) set(which Counter, v uint64) {
	switch which {
	case RefCount:
		c.refCount = v
	case ModTrack:
		c.modTrack = v
	case ForkTrack:
		c.forkTrack = v
	}
}
