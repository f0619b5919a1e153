// Package store implements the Metadata Store (spec §4.1): a transactional,
// tabular record of inode -> FileMeta plus parent/child edges, backed by
// go.etcd.io/bbolt - one bucket per logical table, mutated inside db.Update
// transactions so that a metadata change and its parent-edge change commit
// atomically.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaulterr"
)

var (
	bucketType     = []byte("type")     // inode -> encoded FileMeta
	bucketChildren = []byte("children") // parent inode -> {child name -> child inode}
	bucketMeta     = []byte("meta")     // singleton bucket: largest inode allocated, etc.
)

var keyLargestInode = []byte("largest_inode")

// RootInode is the fixed inode number of a vault's own root directory (spec §3).
const RootInode uint64 = 1

// Store is the Metadata Store. All exported methods are safe for concurrent
// use; each one runs inside its own bbolt transaction which gives us the
// "either both the parent-edge and the entity record change, or neither do"
// atomicity spec §4.1 requires without a separate lock (bbolt serializes
// writers internally, matching the coarse single-operation lock of spec §5).
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the metadata database at path and
// ensures the root row (spec §6.1) exists.
func Open(path string, now func() time.Time) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	s := &Store{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketType, bucketChildren, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		typeBucket := tx.Bucket(bucketType)
		if typeBucket.Get(encodeInode(RootInode)) == nil {
			root := vaultapi.FileMeta{
				Inode:   RootInode,
				Name:    "/",
				Kind:    vaultapi.KindDirectory,
				Atime:   now().Unix(),
				Mtime:   now().Unix(),
				Version: vaultapi.Version{Major: 1, Minor: 0},
			}
			encoded, err := json.Marshal(root)
			if err != nil {
				return err
			}
			if err := typeBucket.Put(encodeInode(RootInode), encoded); err != nil {
				return err
			}
			return tx.Bucket(bucketMeta).Put(keyLargestInode, encodeInode(RootInode))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeInode(inode uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, inode)
	return buf
}

func decodeInode(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func childKey(parent uint64, name string) []byte {
	return []byte(fmt.Sprintf("%020d/%s", parent, name))
}

// LargestInode returns the largest inode number allocated so far in this
// vault.
func (s *Store) LargestInode() (uint64, error) {
	var largest uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyLargestInode)
		if raw != nil {
			largest = decodeInode(raw)
		}
		return nil
	})
	if err != nil {
		return 0, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return largest, nil
}

// NextInode allocates and reserves the next monotone inode number.
func (s *Store) NextInode() (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		raw := b.Get(keyLargestInode)
		current := uint64(0)
		if raw != nil {
			current = decodeInode(raw)
		}
		next = current + 1
		return b.Put(keyLargestInode, encodeInode(next))
	})
	if err != nil {
		return 0, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return next, nil
}

// Attr returns the FileMeta recorded for inode.
func (s *Store) Attr(inode uint64) (vaultapi.FileMeta, error) {
	var meta vaultapi.FileMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketType).Get(encodeInode(inode))
		if raw == nil {
			return vaulterr.NotExist(inode)
		}
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		if ve, ok := err.(*vaulterr.Error); ok {
			return vaultapi.FileMeta{}, ve
		}
		return vaultapi.FileMeta{}, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return meta, nil
}

// AddFile records a brand new inode as a child of parent (spec §4.1).
func (s *Store) AddFile(parent, child uint64, name string, kind vaultapi.Kind, atime, mtime int64, version vaultapi.Version) error {
	if len(name) > vaultapi.MaxNameLength {
		return vaulterr.New(vaulterr.KindFileNameTooLong, "name %q exceeds %d bytes", name, vaultapi.MaxNameLength)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		children := tx.Bucket(bucketChildren)
		key := childKey(parent, name)
		if children.Get(key) != nil {
			return vaulterr.New(vaulterr.KindFileAlreadyExist, "%q already exists under inode %d", name, parent)
		}
		meta := vaultapi.FileMeta{
			Inode: child, Name: name, Kind: kind,
			Atime: atime, Mtime: mtime, Version: version, Parent: parent,
		}
		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketType).Put(encodeInode(child), encoded); err != nil {
			return err
		}
		return children.Put(key, encodeInode(child))
	})
	return wrapTxErr(err)
}

// AttrUpdate carries the optional fields set_attr may change; a nil pointer
// means "leave unchanged".
type AttrUpdate struct {
	Name    *string
	Atime   *int64
	Mtime   *int64
	Version *vaultapi.Version
}

// SetAttr updates the named fields of inode's FileMeta atomically.
func (s *Store) SetAttr(inode uint64, update AttrUpdate) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		typeBucket := tx.Bucket(bucketType)
		raw := typeBucket.Get(encodeInode(inode))
		if raw == nil {
			return vaulterr.NotExist(inode)
		}
		var meta vaultapi.FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return err
		}
		children := tx.Bucket(bucketChildren)
		if update.Name != nil && *update.Name != meta.Name {
			newKey := childKey(meta.Parent, *update.Name)
			if children.Get(newKey) != nil {
				return vaulterr.New(vaulterr.KindFileAlreadyExist, "%q already exists under inode %d", *update.Name, meta.Parent)
			}
			if err := children.Delete(childKey(meta.Parent, meta.Name)); err != nil {
				return err
			}
			if err := children.Put(newKey, encodeInode(inode)); err != nil {
				return err
			}
			meta.Name = *update.Name
		}
		if update.Atime != nil {
			meta.Atime = *update.Atime
		}
		if update.Mtime != nil {
			meta.Mtime = *update.Mtime
		}
		if update.Version != nil {
			meta.Version = *update.Version
		}
		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return typeBucket.Put(encodeInode(inode), encoded)
	})
	return wrapTxErr(err)
}

// RemoveFile deletes inode's metadata and its parent edge (spec §4.1).
func (s *Store) RemoveFile(inode uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		typeBucket := tx.Bucket(bucketType)
		raw := typeBucket.Get(encodeInode(inode))
		if raw == nil {
			return vaulterr.NotExist(inode)
		}
		var meta vaultapi.FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return err
		}
		if meta.Kind == vaultapi.KindDirectory {
			children := tx.Bucket(bucketChildren)
			cursor := children.Cursor()
			prefix := []byte(fmt.Sprintf("%020d/", inode))
			for k, _ := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cursor.Next() {
				return vaulterr.NotEmpty(inode)
			}
		}
		if err := typeBucket.Delete(encodeInode(inode)); err != nil {
			return err
		}
		return tx.Bucket(bucketChildren).Delete(childKey(meta.Parent, meta.Name))
	})
	return wrapTxErr(err)
}

// Readdir returns (self, parent-or-0, children) for dir, per spec §4.1. It
// never touches the filesystem, only the metadata tables.
func (s *Store) Readdir(dir uint64) (self uint64, parent uint64, children []uint64, err error) {
	txErr := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketType).Get(encodeInode(dir))
		if raw == nil {
			return vaulterr.NotExist(dir)
		}
		var meta vaultapi.FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return err
		}
		if meta.Kind != vaultapi.KindDirectory {
			return vaulterr.New(vaulterr.KindNotDirectory, "inode %d is not a directory", dir)
		}
		self = dir
		parent = meta.Parent
		children = nil
		cursor := tx.Bucket(bucketChildren).Cursor()
		prefix := []byte(fmt.Sprintf("%020d/", dir))
		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			children = append(children, decodeInode(v))
		}
		return nil
	})
	if txErr != nil {
		return 0, 0, nil, wrapTxErr(txErr)
	}
	return self, parent, children, nil
}

// HasChild reports whether parent already has a child named name.
func (s *Store) HasChild(parent uint64, name string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketChildren).Get(childKey(parent, name)) != nil
		return nil
	})
	return found, wrapTxErr(err)
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func wrapTxErr(err error) error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*vaulterr.Error); ok {
		return ve
	}
	return vaulterr.Wrap(vaulterr.KindIO, err)
}
