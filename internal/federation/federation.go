// Package federation implements the Federation Layer (spec §4.8): it
// assigns each configured vault a 16-bit prefix in a stable ordering,
// encodes/decodes the 64-bit global inode = (prefix<<48)|local-inode, and
// dispatches an incoming operation on a global inode to the vault that
// owns it. The root directory (global inode 1, prefix 0) is synthetic: its
// readdir lists one entry per vault plus ".", with no "..". Grounded on the
// teacher's fs.FS, which is the single InodeEmbedder root every FUSE
// callback is dispatched through; here that single root fans out across
// multiple independently-owned vaults instead of one Graph drive.
package federation

import (
	"context"
	"sort"
	"time"

	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaulterr"
)

// localBits is the width of the local-inode portion of a global inode
// (spec §3: "unsigned 48-bit identifier unique within one vault").
const localBits = 48
const localMask = (uint64(1) << localBits) - 1

// RootInode is the synthetic federation root (prefix 0, local inode 1).
const RootInode uint64 = 1

// Encode packs (prefix, local) into one global inode (spec §3).
func Encode(prefix uint16, local uint64) uint64 {
	return uint64(prefix)<<localBits | (local & localMask)
}

// Decode splits a global inode back into (prefix, local).
func Decode(global uint64) (prefix uint16, local uint64) {
	return uint16(global >> localBits), global & localMask
}

// Layer owns the prefix assignment and the set of vaults it dispatches to.
type Layer struct {
	names  []string // stable ordering: names[prefix-1] is the vault at that prefix
	byName map[string]uint16
	vaults map[uint16]vaultapi.Vault
}

// New assigns prefixes 1..N to names in sorted order, so the assignment does
// not depend on the order names are passed in; prefix 0 is reserved for the
// synthetic federation root and is never assigned to a real vault.
func New(names []string) *Layer {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	l := &Layer{
		names:  sorted,
		byName: make(map[string]uint16, len(sorted)),
		vaults: make(map[uint16]vaultapi.Vault, len(sorted)),
	}
	for i, n := range sorted {
		l.byName[n] = uint16(i + 1)
	}
	return l
}

// Bind attaches the live vaultapi.Vault implementation for name. Must be
// called once per name passed to New before any operation touches it.
func (l *Layer) Bind(name string, v vaultapi.Vault) error {
	prefix, ok := l.byName[name]
	if !ok {
		return vaulterr.New(vaulterr.KindCannotFindVaultByName, "vault %q was not in the configured name set", name)
	}
	l.vaults[prefix] = v
	return nil
}

// PrefixOf returns the 16-bit prefix assigned to name.
func (l *Layer) PrefixOf(name string) (uint16, bool) {
	p, ok := l.byName[name]
	return p, ok
}

func (l *Layer) vaultFor(prefix uint16) (vaultapi.Vault, error) {
	v, ok := l.vaults[prefix]
	if !ok {
		return nil, vaulterr.NoCorrespondingVault
	}
	return v, nil
}

// Attr dispatches attr to the owning vault and translates the returned
// FileMeta's inode back into global form.
func (l *Layer) Attr(ctx context.Context, global uint64) (vaultapi.Attr, error) {
	prefix, local := Decode(global)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return vaultapi.Attr{}, err
	}
	attr, err := v.Attr(ctx, local)
	if err != nil {
		return vaultapi.Attr{}, err
	}
	attr.Inode = Encode(prefix, attr.Inode)
	attr.Parent = l.encodeParent(prefix, local, attr.Parent)
	return attr, nil
}

func (l *Layer) Read(ctx context.Context, global uint64, offset int64, size uint32) ([]byte, error) {
	prefix, local := Decode(global)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return nil, err
	}
	return v.Read(ctx, local, offset, size)
}

func (l *Layer) Write(ctx context.Context, global uint64, offset int64, data []byte) (uint32, error) {
	prefix, local := Decode(global)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return 0, err
	}
	return v.Write(ctx, local, offset, data)
}

func (l *Layer) Create(ctx context.Context, globalParent uint64, name string, kind vaultapi.Kind) (uint64, error) {
	prefix, localParent := Decode(globalParent)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return 0, err
	}
	child, err := v.Create(ctx, localParent, name, kind)
	if err != nil {
		return 0, err
	}
	return Encode(prefix, child), nil
}

func (l *Layer) Open(ctx context.Context, global uint64, mode vaultapi.OpenMode) error {
	prefix, local := Decode(global)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return err
	}
	return v.Open(ctx, local, mode)
}

func (l *Layer) Close(ctx context.Context, global uint64) error {
	prefix, local := Decode(global)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return err
	}
	return v.Close(ctx, local)
}

func (l *Layer) Delete(ctx context.Context, global uint64) error {
	prefix, local := Decode(global)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return err
	}
	return v.Delete(ctx, local)
}

// Readdir dispatches to the owning vault, except for RootInode, whose
// listing is synthesized from the configured vault names (spec §4.8).
func (l *Layer) Readdir(ctx context.Context, global uint64) ([]vaultapi.FileMeta, error) {
	if global == RootInode {
		return l.readdirRoot(), nil
	}
	prefix, local := Decode(global)
	v, err := l.vaultFor(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := v.Readdir(ctx, local)
	if err != nil {
		return nil, err
	}
	out := make([]vaultapi.FileMeta, len(entries))
	for i, e := range entries {
		e.Inode = Encode(prefix, e.Inode)
		e.Parent = l.encodeParent(prefix, local, e.Parent)
		out[i] = e
	}
	return out, nil
}

// encodeParent re-prefixes a parent inode as seen from local (the listed
// directory), which is always within the same vault as local itself.
func (l *Layer) encodeParent(prefix uint16, local, parent uint64) uint64 {
	if local == 1 && parent == 0 {
		return RootInode
	}
	return Encode(prefix, parent)
}

// readdirRoot lists one synthetic entry per configured vault, its inode
// being that vault's own root translated into global form, plus a "."
// entry for the federation root itself. The federation root has no
// parent, so no ".." is emitted (spec §4.8, §6.2: "except at vault root").
func (l *Layer) readdirRoot() []vaultapi.FileMeta {
	now := time.Now().Unix()
	out := make([]vaultapi.FileMeta, 0, len(l.names)+1)
	for _, name := range l.names {
		prefix := l.byName[name]
		out = append(out, vaultapi.FileMeta{
			Inode:  Encode(prefix, 1),
			Name:   name,
			Kind:   vaultapi.KindDirectory,
			Atime:  now,
			Mtime:  now,
			Parent: RootInode,
		})
	}
	out = append(out, vaultapi.FileMeta{
		Inode:  RootInode,
		Name:   ".",
		Kind:   vaultapi.KindDirectory,
		Atime:  now,
		Mtime:  now,
	})
	return out
}

func (l *Layer) TearDown(ctx context.Context) error {
	var first error
	for _, v := range l.vaults {
		if err := v.TearDown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
