// Package replayer implements the Background Replayer (spec §4.7): a
// per-Caching-Vault worker that drains the shared oplog.Log on a fixed
// ticker, coalesces adjacent ops, executes them against the remote, and
// retries the remainder of a tick after a transport failure, draining a
// queue against the remote and requeuing on failure on its own goroutine.
package replayer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ovnet/fedvault/internal/localvault"
	"github.com/ovnet/fedvault/internal/oplog"
	"github.com/ovnet/fedvault/internal/remotevault"
	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaulterr"
)

// Interval is the default drain period (spec §4.7: "drains the log every
// three seconds"), overridden by configuration's background_update_interval.
const Interval = 3 * time.Second

// Replayer owns one Caching Vault's log and uploads against its remote.
type Replayer struct {
	vault     string
	log       *oplog.Log
	main      *remotevault.Client
	mirror    *localvault.Vault
	graveyard string
	interval  time.Duration
	zlog      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a replayer for vault's log, uploading against main and reading
// promoted read-copies out of mirror. graveyard is the directory upload
// staging files are written to (spec §6.1's graveyard/).
func New(vaultName string, log *oplog.Log, main *remotevault.Client, mirror *localvault.Vault, graveyard string, interval time.Duration, zl zerolog.Logger) *Replayer {
	if interval <= 0 {
		interval = Interval
	}
	return &Replayer{
		vault:     vaultName,
		log:       log,
		main:      main,
		mirror:    mirror,
		graveyard: graveyard,
		interval:  interval,
		zlog:      zl.With().Str("component", "replayer").Str("vault", vaultName).Logger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run blocks draining the log once per configured interval until Shutdown is called. Intended
// to be launched on its own goroutine, one per Caching Vault (spec §5: "one
// thread hosts each Caching Vault's Background Replayer").
func (r *Replayer) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			r.drainOnce(ctx)
			return
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

// Shutdown marks the replayer for exit and blocks until its goroutine has
// drained the log one last time and returned (spec §5: "shutdown first
// marks the replayer for exit and then joins it").
func (r *Replayer) Shutdown() {
	close(r.stop)
	<-r.done
}

func (r *Replayer) drainOnce(ctx context.Context) {
	pending := r.log.Swap()
	if len(pending) == 0 {
		return
	}
	pending = coalesce(pending)
	for i, op := range pending {
		if err := r.execute(ctx, op); err != nil {
			if vaulterr.IsRpc(err) {
				r.log.PutBack(pending[i:])
				r.zlog.Debug().Err(err).Msg("remote unreachable, retrying remaining ops next tick")
				return
			}
			r.zlog.Warn().Interface("op", op).Err(err).Msg("dropping op after non-transport error")
		}
	}
}

func (r *Replayer) execute(ctx context.Context, op vaultapi.PendingOp) error {
	switch op.Tag {
	case vaultapi.OpDelete:
		return r.main.Delete(ctx, op.Inode)
	case vaultapi.OpCreate:
		_, err := r.main.Create(ctx, op.Parent, op.Name, op.Kind)
		return err
	case vaultapi.OpUpload:
		return r.executeUpload(ctx, op)
	}
	return nil
}

// executeUpload stages the inode's read copy into a durable graveyard file
// before streaming it, so the upload survives a crash mid-stream (spec
// §6.1's graveyard/ and §4.7: "copies the inode's read copy into a durable
// graveyard staging file ... then streams that file as a write").
func (r *Replayer) executeUpload(ctx context.Context, op vaultapi.PendingOp) error {
	staged := filepath.Join(r.graveyard, graveyardName(r.vault, op.Name, op.Inode))
	if err := r.mirror.Data().CopyTo(op.Inode, staged); err != nil {
		return err
	}
	defer os.Remove(staged)

	data, err := os.ReadFile(staged)
	if err != nil {
		return vaulterr.Wrap(vaulterr.KindIO, err)
	}
	accepted, err := r.main.Submit(ctx, op.Inode, data, op.TargetVersion)
	if err != nil {
		return err
	}
	if !accepted {
		return vaulterr.Remote("remote rejected submitted upload")
	}
	return nil
}

// graveyardName is suffixed with a fresh uuid so two uploads of the same
// inode racing within one drain (an upload coalesced away, then a fresh one
// queued before the first's staged file is removed) never collide on disk.
func graveyardName(vault, name string, inode uint64) string {
	return "vault(" + vault + ")name(" + name + ")inode(" + uintToString(inode) + ")." + uuid.New().String()
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// coalesce applies the three rewrite rules of spec §4.7 over the pending
// slice in order, before anything is executed.
func coalesce(ops []vaultapi.PendingOp) []vaultapi.PendingOp {
	ops = coalesceUploadThenDelete(ops)
	ops = coalesceCreateThenDelete(ops)
	ops = coalesceUploadThenUpload(ops)
	return ops
}

// coalesceUploadThenDelete: [Upload(A,_,v), Delete(A)] -> [Delete(A)].
func coalesceUploadThenDelete(ops []vaultapi.PendingOp) []vaultapi.PendingOp {
	out := make([]vaultapi.PendingOp, 0, len(ops))
	for i := 0; i < len(ops); i++ {
		if ops[i].Tag == vaultapi.OpUpload {
			if j := findDelete(ops, i+1, ops[i].Inode); j != -1 {
				continue
			}
		}
		out = append(out, ops[i])
	}
	return out
}

func findDelete(ops []vaultapi.PendingOp, from int, inode uint64) int {
	for j := from; j < len(ops); j++ {
		if ops[j].Tag == vaultapi.OpDelete && ops[j].Inode == inode {
			return j
		}
	}
	return -1
}

// coalesceCreateThenDelete: [Create(p,n,k), Delete(child-of-p-named-n)] -> [].
// A queued Create's target inode is unknown until the remote replies, so
// "child of p named n" is matched on the Delete's Parent and Name fields
// equalling the Create's, not on an inode. The rule only fires when such a
// Delete shows up later in the same pending slice (a create-then-delete both
// still queued from one disconnected stretch).
func coalesceCreateThenDelete(ops []vaultapi.PendingOp) []vaultapi.PendingOp {
	out := make([]vaultapi.PendingOp, 0, len(ops))
	dropped := make(map[int]bool)
	for i := range ops {
		if ops[i].Tag != vaultapi.OpCreate {
			continue
		}
		for j := i + 1; j < len(ops); j++ {
			if ops[j].Tag == vaultapi.OpDelete && ops[j].Parent == ops[i].Parent && ops[j].Name == ops[i].Name {
				dropped[i] = true
				dropped[j] = true
				break
			}
		}
	}
	for i, op := range ops {
		if !dropped[i] {
			out = append(out, op)
		}
	}
	return out
}

// coalesceUploadThenUpload: [Upload(A,_,v1), Upload(A,_,v2)] -> [Upload(A,_,v2)].
func coalesceUploadThenUpload(ops []vaultapi.PendingOp) []vaultapi.PendingOp {
	lastUpload := make(map[uint64]int)
	for i, op := range ops {
		if op.Tag == vaultapi.OpUpload {
			lastUpload[op.Inode] = i
		}
	}
	out := make([]vaultapi.PendingOp, 0, len(ops))
	for i, op := range ops {
		if op.Tag == vaultapi.OpUpload && lastUpload[op.Inode] != i {
			continue
		}
		out = append(out, op)
	}
	return out
}
