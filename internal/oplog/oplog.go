// Package oplog is the Background Replayer's pending-operations log (spec
// §4.7): a small buffer a Caching Vault appends deferred remote work to,
// drained and coalesced by a replayer on its own ticker. Split out as its
// own package (rather than living inside cachingvault or replayer) so
// neither of those two packages import each other - both depend on this one.
package oplog

import (
	"sync"

	"github.com/ovnet/fedvault/internal/vaultapi"
)

// Log is a process-local, mutex-guarded queue of vaultapi.PendingOp.
type Log struct {
	mu  sync.Mutex
	ops []vaultapi.PendingOp
}

// New returns an empty log.
func New() *Log { return &Log{} }

// Append adds op to the tail of the log (a Caching Vault's write path).
func (l *Log) Append(op vaultapi.PendingOp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

// Swap atomically takes every op currently queued and replaces the backing
// slice with a fresh empty one (spec §4.7: "atomically swap the shared log
// buffer with an empty one").
func (l *Log) Swap() []vaultapi.PendingOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	taken := l.ops
	l.ops = nil
	return taken
}

// PutBack prepends ops back onto the live queue, ahead of anything appended
// since the last Swap. Used when a Background Replayer iteration stops
// partway through a tick on an RpcError and the remaining slice must be
// retried next tick (spec §4.7).
func (l *Log) PutBack(ops []vaultapi.PendingOp) {
	if len(ops) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(append([]vaultapi.PendingOp{}, ops...), l.ops...)
}

// Len reports how many ops are currently queued, for tests and diagnostics.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}
