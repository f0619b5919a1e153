// Package cachingvault implements the Caching Vault policy layer (spec
// §4.6): a local mirror of a single remote peer's vault, consulted first
// when the remote is unreachable, refreshed from the remote when connected,
// and reconciled through savage against other peers when both are
// unavailable - metadata-first, content-on-demand, offline fallback when
// remote calls fail, generalized from one fixed remote to an arbitrary
// named peer and a swappable savage peer set.
package cachingvault

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ovnet/fedvault/internal/datapool"
	"github.com/ovnet/fedvault/internal/localvault"
	"github.com/ovnet/fedvault/internal/oplog"
	"github.com/ovnet/fedvault/internal/refcount"
	"github.com/ovnet/fedvault/internal/remotevault"
	"github.com/ovnet/fedvault/internal/store"
	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaulterr"
)

// Now is overridable for tests; defaults to time.Now.
var Now = time.Now

// readChunk bounds how much is pulled from the remote in one Read call
// while streaming a full-file fetch into the mirror.
const readChunk = 4 << 20

// Vault is a Caching Vault: a policy layer in front of one remote peer.
type Vault struct {
	name   string
	mirror *localvault.Vault
	main   *remotevault.Client

	peersMu sync.RWMutex
	peers   map[string]*remotevault.Client // other known peers, for savage

	refs *refcount.Table
	log  *oplog.Log

	allowDisconnectedDelete bool
	allowDisconnectedCreate bool

	// graveyard, if set, is where both sides of a write conflict (spec §9's
	// open question) are staged for manual merge. Empty disables staging
	// (the conflict is still surfaced, just without retained copies).
	graveyard string

	mu   sync.Mutex
	zlog zerolog.Logger
}

// New builds a Caching Vault named name (matching main's own descriptor
// name) backed by mirror for local storage.
func New(name string, mirror *localvault.Vault, main *remotevault.Client, log *oplog.Log, allowDisconnectedDelete, allowDisconnectedCreate bool, zl zerolog.Logger) *Vault {
	return &Vault{
		name:                    name,
		mirror:                  mirror,
		main:                    main,
		peers:                   make(map[string]*remotevault.Client),
		refs:                    refcount.New(),
		log:                     log,
		allowDisconnectedDelete: allowDisconnectedDelete,
		allowDisconnectedCreate: allowDisconnectedCreate,
		zlog:                    zl.With().Str("component", "cachingvault").Str("vault", name).Logger(),
	}
}

func (v *Vault) Name() string { return v.name }

// SetPeers replaces the set of other known peers consulted by savage, spec
// §4.6: "a map of all peers' Remote Vault Clients (for savage)". main
// itself is never included.
func (v *Vault) SetPeers(peers map[string]*remotevault.Client) {
	v.peersMu.Lock()
	defer v.peersMu.Unlock()
	v.peers = make(map[string]*remotevault.Client, len(peers))
	for n, c := range peers {
		if n == v.name {
			continue
		}
		v.peers[n] = c
	}
}

// SetGraveyard configures where write-conflict copies are staged (spec §9).
// Matches the directory the Background Replayer stages uploads in
// (spec §6.1's graveyard/), just namespaced by a distinct file suffix.
func (v *Vault) SetGraveyard(dir string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graveyard = dir
}

func (v *Vault) peerList() []*remotevault.Client {
	v.peersMu.RLock()
	defer v.peersMu.RUnlock()
	out := make([]*remotevault.Client, 0, len(v.peers))
	for _, c := range v.peers {
		out = append(out, c)
	}
	return out
}

func (v *Vault) meta() *store.Store   { return v.mirror.Meta() }
func (v *Vault) data() *datapool.Pool { return v.mirror.Data() }

// Attr asks the remote first, falling back to the mirror on transport
// failure and cascading a local delete when the remote says the file is
// gone (spec §4.6.1).
func (v *Vault) Attr(ctx context.Context, inode uint64) (vaultapi.Attr, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	attr, err := v.main.Attr(ctx, inode)
	if err == nil {
		return attr, nil
	}
	if vaulterr.IsRpc(err) {
		return v.localAttr(inode)
	}
	if vaulterr.KindOf(err) == vaulterr.KindFileNotExist {
		v.cascadeDelete(inode)
	}
	return vaultapi.Attr{}, err
}

func (v *Vault) localAttr(inode uint64) (vaultapi.Attr, error) {
	meta, err := v.meta().Attr(inode)
	if err != nil {
		return vaultapi.Attr{}, err
	}
	size, err := v.data().Size(inode)
	if err != nil {
		return vaultapi.Attr{}, err
	}
	return vaultapi.Attr{FileMeta: meta, Size: size}, nil
}

// cascadeDelete removes a mirror entry the remote has authoritatively
// garbage-collected (spec §7: "FileNotExist coming back from a remote for a
// file we have locally triggers a cascading local delete").
func (v *Vault) cascadeDelete(inode uint64) {
	if err := v.meta().RemoveFile(inode); err != nil {
		v.zlog.Debug().Uint64("inode", inode).Err(err).Msg("cascade delete: no local metadata to remove")
	}
	if err := v.data().Remove(inode); err != nil {
		v.zlog.Debug().Uint64("inode", inode).Err(err).Msg("cascade delete: no local data file to remove")
	}
	v.refs.Forget(inode)
}

// Readdir asks the remote, inserts a zero-version marker for any entry the
// mirror does not yet know about, then always answers from the mirror so
// both remote-known and purely-local entries are visible (spec §4.6.1).
func (v *Vault) Readdir(ctx context.Context, dir uint64) ([]vaultapi.FileMeta, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	remote, err := v.main.Readdir(ctx, dir)
	if err == nil {
		for _, e := range remote {
			if e.Name == "." || e.Name == ".." {
				continue // synthetic, not an actual child edge; the mirror supplies its own
			}
			has, herr := v.meta().HasChild(dir, e.Name)
			if herr != nil || has {
				continue
			}
			if addErr := v.meta().AddFile(dir, e.Inode, e.Name, e.Kind, e.Atime, e.Mtime, vaultapi.ZeroVersion); addErr != nil {
				v.zlog.Debug().Str("name", e.Name).Err(addErr).Msg("readdir: could not insert marker entry")
			}
		}
	} else if !vaulterr.IsRpc(err) {
		return nil, err
	}
	return v.mirror.Readdir(ctx, dir)
}

// Open implements spec §4.6.1/§4.6.2's state machine: repeat opens just
// bump ref_count; a fresh open refreshes from the remote when stale,
// reuses a local copy when disconnected, or savages from another peer as a
// last resort.
func (v *Vault) Open(ctx context.Context, inode uint64, mode vaultapi.OpenMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.refs.Nonzero(inode, refcount.RefCount) {
		return v.refs.Incf(inode, refcount.RefCount)
	}

	remoteAttr, err := v.main.Attr(ctx, inode)
	switch {
	case err == nil:
		if fetchErr := v.refreshFromRemote(ctx, inode, remoteAttr); fetchErr != nil {
			return fetchErr
		}
	case vaulterr.IsRpc(err):
		if localErr := v.tryLocalOrSavage(ctx, inode, err); localErr != nil {
			return localErr
		}
	default:
		return err
	}
	return v.refs.Incf(inode, refcount.RefCount)
}

// refreshFromRemote pulls content down when the mirror's version is older
// than (or absent relative to) the remote's.
func (v *Vault) refreshFromRemote(ctx context.Context, inode uint64, remoteAttr vaultapi.Attr) error {
	localMeta, localErr := v.meta().Attr(inode)
	stale := localErr != nil || localMeta.Version.Less(remoteAttr.Version)
	if !stale {
		return nil
	}

	var content []byte
	var offset int64
	for uint64(len(content)) < remoteAttr.Size {
		chunk, rerr := v.main.Read(ctx, inode, offset, readChunk)
		if rerr != nil {
			return rerr
		}
		if len(chunk) == 0 {
			break
		}
		content = append(content, chunk...)
		offset += int64(len(chunk))
	}
	if _, werr := v.data().Write(inode, 0, content); werr != nil {
		return werr
	}
	if cerr := v.data().Close(inode, true); cerr != nil {
		return cerr
	}

	if localErr != nil {
		return v.meta().AddFile(remoteAttr.Parent, inode, remoteAttr.Name, remoteAttr.Kind, remoteAttr.Atime, remoteAttr.Mtime, remoteAttr.Version)
	}
	return v.meta().SetAttr(inode, store.AttrUpdate{Version: &remoteAttr.Version, Mtime: &remoteAttr.Mtime})
}

// tryLocalOrSavage is the disconnected-open path: use a versioned local
// copy if one exists, else ask every other known peer to savage it.
func (v *Vault) tryLocalOrSavage(ctx context.Context, inode uint64, transportErr error) error {
	if meta, err := v.meta().Attr(inode); err == nil && !meta.Version.IsZero() && v.data().Exists(inode) {
		return nil
	}
	for _, peer := range v.peerList() {
		content, version, serr := peer.Savage(ctx, v.name, inode)
		if serr != nil {
			continue
		}
		if _, werr := v.data().Write(inode, 0, content); werr != nil {
			return werr
		}
		if cerr := v.data().Close(inode, true); cerr != nil {
			return cerr
		}
		now := Now().Unix()
		if _, aerr := v.meta().Attr(inode); aerr != nil {
			if addErr := v.meta().AddFile(0, inode, "", vaultapi.KindFile, now, now, version); addErr != nil {
				return addErr
			}
		} else if serr := v.meta().SetAttr(inode, store.AttrUpdate{Version: &version, Mtime: &now}); serr != nil {
			return serr
		}
		return nil
	}
	return transportErr
}

// Read always serves from the mirror (spec §4.6.1).
func (v *Vault) Read(ctx context.Context, inode uint64, offset int64, size uint32) ([]byte, error) {
	return v.data().Read(inode, offset, size)
}

// Write always writes into the mirror and marks mod_track on the Caching
// Vault's own counters, distinct from the mirror's internal ones (spec §4.6.1).
func (v *Vault) Write(ctx context.Context, inode uint64, offset int64, data []byte) (uint32, error) {
	n, err := v.data().Write(inode, offset, data)
	if err != nil {
		return 0, err
	}
	if err := v.refs.Incf(inode, refcount.ModTrack); err != nil {
		v.zlog.Warn().Uint64("inode", inode).Err(err).Msg("mod_track overflow, ignoring")
	}
	return n, nil
}

// Close decrements ref_count; on the transition to zero while dirty, bumps
// the version, promotes the write copy, and enqueues an Upload for the
// Background Replayer (spec §4.6.1/§4.6.2).
func (v *Vault) Close(ctx context.Context, inode uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.refs.Decf(inode, refcount.RefCount); err != nil {
		return err
	}
	if v.refs.Nonzero(inode, refcount.RefCount) {
		return nil
	}

	if !v.refs.Nonzero(inode, refcount.ModTrack) {
		return v.data().Close(inode, false)
	}

	meta, err := v.meta().Attr(inode)
	if err != nil {
		return err
	}
	fork := v.refs.Nonzero(inode, refcount.ForkTrack)
	if fork {
		// A savaged fork (major bump) and this own session's write (minor
		// bump) both want to advance the version from the same base -
		// spec §9 says not to guess which wins. Stage both sides in the
		// graveyard and surface WriteConflict instead of silently picking one.
		return v.writeConflict(inode, meta)
	}
	next := meta.Version.Bump(false)
	if err := v.data().Close(inode, true); err != nil {
		return err
	}
	now := Now().Unix()
	if err := v.meta().SetAttr(inode, store.AttrUpdate{Version: &next, Mtime: &now}); err != nil {
		return err
	}
	v.refs.Zero(inode, refcount.ModTrack)
	v.log.Append(vaultapi.PendingOp{Tag: vaultapi.OpUpload, Inode: inode, Name: meta.Name, TargetVersion: next})
	return nil
}

// writeConflict resolves the Close path when both fork_track and mod_track
// are set: stages the uncommitted write-copy ("local") and the current
// read-copy ("remote", the pre-conflict last-known-good content) into the
// graveyard under distinct names, resets both counters so the conflict is
// not re-raised on a later close of the same inode, and returns WriteConflict
// rather than guessing which side should win (spec §9).
func (v *Vault) writeConflict(inode uint64, meta vaultapi.FileMeta) error {
	localVersion := meta.Version.Bump(false)
	forkVersion := meta.Version.Bump(true)

	if v.graveyard != "" {
		suffix := uuid.New().String()
		localStaged := filepath.Join(v.graveyard, conflictName(v.name, meta.Name, inode, "local", suffix))
		remoteStaged := filepath.Join(v.graveyard, conflictName(v.name, meta.Name, inode, "remote", suffix))
		if err := v.data().CopyWriteTo(inode, localStaged); err != nil {
			v.zlog.Warn().Uint64("inode", inode).Err(err).Msg("could not stage local side of write conflict")
		}
		if err := v.data().CopyTo(inode, remoteStaged); err != nil {
			v.zlog.Warn().Uint64("inode", inode).Err(err).Msg("could not stage remote side of write conflict")
		}
	}

	if err := v.data().Close(inode, false); err != nil {
		v.zlog.Warn().Uint64("inode", inode).Err(err).Msg("could not discard write copy after conflict")
	}
	v.refs.Zero(inode, refcount.ModTrack)
	v.refs.Zero(inode, refcount.ForkTrack)

	return vaulterr.Conflict(inode, localVersion.Ordinal(), forkVersion.Ordinal())
}

// conflictName names a staged conflict-resolution file (spec §6.1's
// graveyard/ naming convention extended with a side tag and a uuid suffix so
// repeated conflicts on the same inode never collide on disk).
func conflictName(vault, name string, inode uint64, side, suffix string) string {
	return "vault(" + vault + ")name(" + name + ")inode(" + uintString(inode) + ")." + side + "." + suffix
}

func uintString(v uint64) string {
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

// Create attempts the remote first; a disconnected create is rejected even
// with allow_disconnected_create set, per spec §4.6.1/§9's open question on
// cross-peer inode allocation.
func (v *Vault) Create(ctx context.Context, parent uint64, name string, kind vaultapi.Kind) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	inode, err := v.main.Create(ctx, parent, name, kind)
	if err != nil {
		return 0, err
	}

	now := Now().Unix()
	if kind == vaultapi.KindFile {
		if _, werr := v.data().Write(inode, 0, nil); werr != nil {
			return 0, werr
		}
		if cerr := v.data().Close(inode, true); cerr != nil {
			return 0, cerr
		}
	}
	if aerr := v.meta().AddFile(parent, inode, name, kind, now, now, vaultapi.InitialVersion); aerr != nil {
		return 0, aerr
	}
	if err := v.refs.Incf(inode, refcount.RefCount); err != nil {
		return 0, err
	}

	if _, rerr := v.refreshParentLocked(ctx, parent); rerr != nil {
		v.zlog.Debug().Uint64("parent", parent).Err(rerr).Msg("post-create readdir refresh failed")
	}
	return inode, nil
}

// refreshParentLocked repeats the Readdir remote-merge step without
// re-acquiring v.mu, since Create already holds it (spec §4.6.1's "finally
// call readdir(parent) to pull any concurrent peer-side additions").
func (v *Vault) refreshParentLocked(ctx context.Context, parent uint64) ([]vaultapi.FileMeta, error) {
	remote, err := v.main.Readdir(ctx, parent)
	if err != nil {
		if vaulterr.IsRpc(err) {
			return v.mirror.Readdir(ctx, parent)
		}
		return nil, err
	}
	for _, e := range remote {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		has, herr := v.meta().HasChild(parent, e.Name)
		if herr != nil || has {
			continue
		}
		v.meta().AddFile(parent, e.Inode, e.Name, e.Kind, e.Atime, e.Mtime, vaultapi.ZeroVersion)
	}
	return v.mirror.Readdir(ctx, parent)
}

// Delete attempts the remote; on RpcError with allow_disconnected_delete
// set, queues the deletion for replay and applies it locally anyway (spec
// §4.6.1).
func (v *Vault) Delete(ctx context.Context, inode uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.main.Delete(ctx, inode)
	if err != nil {
		if !vaulterr.IsRpc(err) || !v.allowDisconnectedDelete {
			return err
		}
		v.log.Append(vaultapi.PendingOp{Tag: vaultapi.OpDelete, Inode: inode})
	}

	if rerr := v.meta().RemoveFile(inode); rerr != nil {
		return rerr
	}
	if !v.refs.Nonzero(inode, refcount.RefCount) {
		if derr := v.data().Remove(inode); derr != nil {
			return derr
		}
		v.refs.Forget(inode)
	}
	return nil
}

// SearchInCache serves a peer's savage request from this mirror, marking
// fork_track so this vault's own next modification produces a major version
// bump (spec §4.6.1: "we assume the savager may diverge from the remote").
func (v *Vault) SearchInCache(ctx context.Context, inode uint64) ([]byte, vaultapi.Version, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := v.meta().Attr(inode)
	if err != nil {
		return nil, vaultapi.Version{}, err
	}
	if meta.Version.IsZero() {
		return nil, vaultapi.Version{}, vaulterr.NotExist(inode)
	}
	size, err := v.data().Size(inode)
	if err != nil {
		return nil, vaultapi.Version{}, err
	}
	var content []byte
	var offset int64
	for uint64(len(content)) < size {
		chunk, rerr := v.data().Read(inode, offset, readChunk)
		if rerr != nil {
			return nil, vaultapi.Version{}, rerr
		}
		if len(chunk) == 0 {
			break
		}
		content = append(content, chunk...)
		offset += int64(len(chunk))
	}
	if err := v.refs.Incf(inode, refcount.ForkTrack); err != nil {
		v.zlog.Warn().Uint64("inode", inode).Err(err).Msg("fork_track overflow, ignoring")
	}
	return content, meta.Version, nil
}

// TearDown closes the local mirror. The owning Background Replayer is
// responsible for draining its own log before this is called (spec §4.7:
// "do not attempt to upload after the owning vault is torn down").
func (v *Vault) TearDown(ctx context.Context) error {
	return v.mirror.TearDown(ctx)
}

var _ vaultapi.Vault = (*Vault)(nil)
var _ vaultapi.Savager = (*Vault)(nil)
