// Package localvault implements the Local Vault (spec §4.4): a
// self-contained filesystem combining the Metadata Store, Data File Pool and
// Reference Counter, with versioning discipline, crash-consistent ordering
// between metadata and data, and a pending-delete queue for files that are
// still open when delete() is called.
package localvault

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ovnet/fedvault/internal/datapool"
	"github.com/ovnet/fedvault/internal/refcount"
	"github.com/ovnet/fedvault/internal/store"
	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaulterr"
)

// Now is overridable for tests; defaults to time.Now.
var Now = time.Now

// Vault is a Local Vault: one host's own on-disk store of files.
type Vault struct {
	name string
	meta *store.Store
	data *datapool.Pool
	refs *refcount.Table
	log  zerolog.Logger

	mu            sync.Mutex
	pendingDelete map[uint64]bool // inodes queued for data removal on last close
}

// Open opens (or creates) a Local Vault named name, with its metadata
// database at dbPath and its data files under dataDir.
func Open(name, dbPath, dataDir string, log zerolog.Logger) (*Vault, error) {
	meta, err := store.Open(dbPath, Now)
	if err != nil {
		return nil, err
	}
	data, err := datapool.New(dataDir, name)
	if err != nil {
		meta.Close()
		return nil, err
	}
	return &Vault{
		name:          name,
		meta:          meta,
		data:          data,
		refs:          refcount.New(),
		log:           log.With().Str("component", "localvault").Logger(),
		pendingDelete: make(map[uint64]bool),
	}, nil
}

func (v *Vault) Name() string { return v.name }

// Meta exposes the underlying Metadata Store for components that need
// lower-level access (Caching Vault's mirror bootstrapping, tests).
func (v *Vault) Meta() *store.Store { return v.meta }

// Data exposes the underlying Data File Pool.
func (v *Vault) Data() *datapool.Pool { return v.data }

// Refs exposes the underlying Reference Counter.
func (v *Vault) Refs() *refcount.Table { return v.refs }

func toAttr(meta vaultapi.FileMeta, size uint64) vaultapi.Attr {
	return vaultapi.Attr{FileMeta: meta, Size: size}
}

// Attr reads metadata from the store and the size from disk (spec §4.4:
// "attr reads the size from the data file on disk").
func (v *Vault) Attr(ctx context.Context, inode uint64) (vaultapi.Attr, error) {
	meta, err := v.meta.Attr(inode)
	if err != nil {
		return vaultapi.Attr{}, err
	}
	size, err := v.data.Size(inode)
	if err != nil {
		return vaultapi.Attr{}, err
	}
	return toAttr(meta, size), nil
}

// Read serves a read regardless of open state (spec §6.2); the caller is
// expected to have opened the file first in the normal FUSE flow, but
// reading without an active session is not an error at this layer.
func (v *Vault) Read(ctx context.Context, inode uint64, offset int64, size uint32) ([]byte, error) {
	if _, err := v.meta.Attr(inode); err != nil {
		return nil, err
	}
	return v.data.Read(inode, offset, size)
}

// Write writes into the write copy and marks mod_track (spec §4.2/§4.3).
func (v *Vault) Write(ctx context.Context, inode uint64, offset int64, data []byte) (uint32, error) {
	if _, err := v.meta.Attr(inode); err != nil {
		return 0, err
	}
	n, err := v.data.Write(inode, offset, data)
	if err != nil {
		return 0, err
	}
	if err := v.refs.Incf(inode, refcount.ModTrack); err != nil {
		v.log.Warn().Uint64("inode", inode).Err(err).Msg("mod_track overflow, ignoring")
	}
	return n, nil
}

// Create creates a new file or directory under parent (spec §4.4: data file
// first, then metadata, so a crash leaks data rather than metadata).
func (v *Vault) Create(ctx context.Context, parent uint64, name string, kind vaultapi.Kind) (uint64, error) {
	if exists, err := v.meta.HasChild(parent, name); err != nil {
		return 0, err
	} else if exists {
		return 0, vaulterr.New(vaulterr.KindFileAlreadyExist, "%q already exists under inode %d", name, parent)
	}
	parentMeta, err := v.meta.Attr(parent)
	if err != nil {
		return 0, err
	}
	if parentMeta.Kind != vaultapi.KindDirectory {
		return 0, vaulterr.New(vaulterr.KindNotDirectory, "inode %d is not a directory", parent)
	}

	child, err := v.meta.NextInode()
	if err != nil {
		return 0, err
	}

	if kind == vaultapi.KindFile {
		// data file first: on a crash between here and the metadata write,
		// we leak a data file rather than an observable metadata inconsistency.
		if _, err := v.data.Get(child, false); err != nil {
			return 0, err
		}
		v.data.Release(child)
	}

	now := Now().Unix()
	if err := v.meta.AddFile(parent, child, name, kind, now, now, vaultapi.InitialVersion); err != nil {
		return 0, err
	}
	return child, nil
}

// Open consults the Reference Counter: ref_count 0->1 is where a caller
// (e.g. Caching Vault) would normally consult a cache; Local Vault itself
// has nothing further to do beyond tracking the open (spec §3's OpenSession).
func (v *Vault) Open(ctx context.Context, inode uint64, mode vaultapi.OpenMode) error {
	meta, err := v.meta.Attr(inode)
	if err != nil {
		return err
	}
	if meta.Kind == vaultapi.KindDirectory {
		return vaulterr.New(vaulterr.KindIsDirectory, "inode %d is a directory", inode)
	}
	return v.refs.Incf(inode, refcount.RefCount)
}

// Close decrements ref_count; on transition to zero, commits a version bump
// if the session modified the file, and processes any queued pending
// delete (spec §4.4's pending delete queue, spec §3's OpenSession lifecycle).
func (v *Vault) Close(ctx context.Context, inode uint64) error {
	if err := v.refs.Decf(inode, refcount.RefCount); err != nil {
		return err
	}
	if v.refs.Nonzero(inode, refcount.RefCount) {
		return nil
	}

	modified := v.refs.Nonzero(inode, refcount.ModTrack)
	fork := v.refs.Nonzero(inode, refcount.ForkTrack)
	if modified {
		meta, err := v.meta.Attr(inode)
		if err != nil {
			return err
		}
		next := meta.Version.Bump(fork)
		if err := v.data.Close(inode, true); err != nil {
			return err
		}
		if err := v.meta.SetAttr(inode, store.AttrUpdate{Version: &next, Mtime: ptrInt64(Now().Unix())}); err != nil {
			return err
		}
		v.refs.Zero(inode, refcount.ModTrack)
	} else {
		if err := v.data.Close(inode, false); err != nil {
			return err
		}
	}

	v.mu.Lock()
	queued := v.pendingDelete[inode]
	delete(v.pendingDelete, inode)
	v.mu.Unlock()
	if queued {
		if err := v.data.Remove(inode); err != nil {
			return err
		}
		v.refs.Forget(inode)
	}
	return nil
}

// Delete removes inode's metadata first, then its data file (spec §4.4:
// metadata first on delete, the reverse order of create, so a crash leaks
// data, never metadata). If the file is still referenced, data-file removal
// is queued for the last close.
func (v *Vault) Delete(ctx context.Context, inode uint64) error {
	if err := v.meta.RemoveFile(inode); err != nil {
		return err
	}
	if v.refs.Nonzero(inode, refcount.RefCount) {
		v.mu.Lock()
		v.pendingDelete[inode] = true
		v.mu.Unlock()
		return nil
	}
	if err := v.data.Remove(inode); err != nil {
		return err
	}
	v.refs.Forget(inode)
	return nil
}

// Readdir never touches the filesystem, only the metadata tables (spec §4.4).
// Appends a "." entry for dir itself, and a ".." entry for its parent except
// at the vault root (spec §6.2, §4.8; original_source/src/local_vault.rs:264-276).
func (v *Vault) Readdir(ctx context.Context, dir uint64) ([]vaultapi.FileMeta, error) {
	self, parent, children, err := v.meta.Readdir(dir)
	if err != nil {
		return nil, err
	}
	result := make([]vaultapi.FileMeta, 0, len(children)+2)
	for _, c := range children {
		m, err := v.meta.Attr(c)
		if err != nil {
			continue // disappeared between Readdir listing its edge and Attr; skip
		}
		result = append(result, m)
	}

	selfAttr, err := v.meta.Attr(self)
	if err != nil {
		return nil, err
	}
	selfAttr.Name = "."
	result = append(result, selfAttr)

	if parent != 0 {
		parentAttr, err := v.meta.Attr(parent)
		if err != nil {
			return nil, err
		}
		parentAttr.Name = ".."
		result = append(result, parentAttr)
	}
	return result, nil
}

// TearDown removes the data files still queued for pending delete (closing
// their handles), then closes the metadata store. Handles of other open
// data files are not closed here.
func (v *Vault) TearDown(ctx context.Context) error {
	v.mu.Lock()
	pending := make([]uint64, 0, len(v.pendingDelete))
	for inode := range v.pendingDelete {
		pending = append(pending, inode)
	}
	v.pendingDelete = make(map[uint64]bool)
	v.mu.Unlock()
	for _, inode := range pending {
		v.data.Remove(inode)
	}
	return v.meta.Close()
}

// ApplySubmit overwrites inode's content with data and sets its version
// directly to version, bypassing the normal open/write/close session
// bookkeeping. Used by vaultserver to apply a Background Replayer's
// Upload(spec §4.7) pushed against this vault's own RPC server.
func (v *Vault) ApplySubmit(ctx context.Context, inode uint64, data []byte, version vaultapi.Version) error {
	if _, err := v.meta.Attr(inode); err != nil {
		return err
	}
	if _, err := v.data.Write(inode, 0, data); err != nil {
		return err
	}
	if err := v.data.Close(inode, true); err != nil {
		return err
	}
	return v.meta.SetAttr(inode, store.AttrUpdate{Version: &version, Mtime: ptrInt64(Now().Unix())})
}

func ptrInt64(v int64) *int64 { return &v }

var _ vaultapi.Vault = (*Vault)(nil)
