// Package vaultapi defines the operation surface every vault variant (local,
// remote, caching) implements, plus the data types that cross that surface.
// It deliberately holds no implementation - localvault, remotevault and
// cachingvault each satisfy Vault independently, without a shared base type.
package vaultapi

import "context"

// Kind distinguishes a file from a directory. Matches spec §3's FileMeta.kind.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// MaxNameLength is the longest a file name may be (spec §4.1).
const MaxNameLength = 100

// Version is the monotone per-file revision counter. A pair of (major,
// minor) counters: the Major/Minor fields keep the pair explicit where the
// policy layer needs to reason about fork vs. regular bumps (spec §9's
// versioning note), while ordering comparisons ("is this version newer")
// go through Ordinal, which collapses the pair into one comparable value.
type Version struct {
	Major uint32
	Minor uint32
}

// ZeroVersion is used by Caching Vault readdir as the "content not yet
// fetched" marker (spec §4.6.1).
var ZeroVersion = Version{}

// Ordinal packs (major, minor) into a single comparable 64-bit value.
func (v Version) Ordinal() uint64 {
	return uint64(v.Major)<<32 | uint64(v.Minor)
}

// Less reports whether v is strictly older than o.
func (v Version) Less(o Version) bool { return v.Ordinal() < o.Ordinal() }

// IsZero reports whether this is the "not yet fetched" marker version.
func (v Version) IsZero() bool { return v.Major == 0 && v.Minor == 0 }

// Bump returns the next version: a major bump if fork is true, else minor.
func (v Version) Bump(fork bool) Version {
	if fork {
		return Version{Major: v.Major + 1, Minor: 0}
	}
	return Version{Major: v.Major, Minor: v.Minor + 1}
}

// InitialVersion is the version a freshly created file starts at (spec §4.4: "(1, 0)").
var InitialVersion = Version{Major: 1, Minor: 0}

// FileMeta is the metadata record for one inode (spec §3's FileMeta entity).
type FileMeta struct {
	Inode   uint64
	Name    string
	Kind    Kind
	Atime   int64
	Mtime   int64
	Version Version
	Parent  uint64 // 0 for the vault root, which has no parent edge
}

// Attr bundles a FileMeta with the on-disk size, the result of the attr
// operation (spec §6.2).
type Attr struct {
	FileMeta
	Size uint64
}

// OpenMode selects how a file is opened (spec §6.2).
type OpenMode int

const (
	ModeRead OpenMode = iota
	ModeReadWrite
)

// PendingOpTag distinguishes the three kinds of deferred work the
// Background Replayer can carry (spec §3's PendingOp entity).
type PendingOpTag int

const (
	OpDelete PendingOpTag = iota
	OpCreate
	OpUpload
)

// PendingOp is one entry in the replayer's in-memory pending-ops log.
type PendingOp struct {
	Tag PendingOpTag

	// Delete, Upload
	Inode uint64

	// Create
	Parent uint64
	Kind   Kind

	// Create, Upload
	Name string

	// Upload
	TargetVersion Version
}

// VaultKind distinguishes the three vault variants (spec §9's tagged
// variant over vault kinds).
type VaultKind int

const (
	VaultLocal VaultKind = iota
	VaultRemote
	VaultCaching
)

// Descriptor names and addresses a vault (spec §3's VaultDescriptor entity).
type Descriptor struct {
	Name    string
	Address string
	Kind    VaultKind
}

// Vault is the operation surface every variant implements (spec §6.2).
type Vault interface {
	// Name returns the vault's own descriptor name.
	Name() string

	Attr(ctx context.Context, inode uint64) (Attr, error)
	Read(ctx context.Context, inode uint64, offset int64, size uint32) ([]byte, error)
	Write(ctx context.Context, inode uint64, offset int64, data []byte) (uint32, error)
	Create(ctx context.Context, parent uint64, name string, kind Kind) (uint64, error)
	Open(ctx context.Context, inode uint64, mode OpenMode) error
	Close(ctx context.Context, inode uint64) error
	Delete(ctx context.Context, inode uint64) error
	Readdir(ctx context.Context, dir uint64) ([]FileMeta, error)
	TearDown(ctx context.Context) error
}

// Savager is implemented only by Caching Vault, the server-side handler for
// peer cache recovery (spec §4.6.1's savage).
type Savager interface {
	SearchInCache(ctx context.Context, inode uint64) ([]byte, Version, error)
}
