// Package datapool implements the Data File Pool (spec §4.2): the two-copy
// (read/write) on-disk byte stream per inode, with an exclusive per-inode
// handle and atomic write-copy-to-read-copy promotion. Grounded on the
// teacher's fs/content_cache.go (LoopbackCache), generalized from a single
// content file per ID to the read-copy/write-copy pair the spec requires.
package datapool

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ovnet/fedvault/internal/vaulterr"
)

// Pool manages data files for one vault, rooted at directory.
type Pool struct {
	directory string
	vault     string

	mu      sync.Mutex
	handles map[uint64]*inodeHandles
}

type inodeHandles struct {
	mu   sync.Mutex // exclusive per-inode lock, per spec §4.2
	read *os.File
	// write is non-nil only between first write and last close of a session.
	write *os.File
}

// New creates a Data File Pool rooted at directory for the named vault. The
// directory is created if it does not exist.
func New(directory, vault string) (*Pool, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return &Pool{directory: directory, vault: vault, handles: make(map[uint64]*inodeHandles)}, nil
}

// ComposePath is deterministic and stable across restarts (spec §4.2):
// "<vault>-<inode>" for the read copy, "<vault>-<inode>-write" for the write copy.
func (p *Pool) ComposePath(inode uint64, write bool) string {
	name := filepathName(p.vault, inode, write)
	return filepath.Join(p.directory, name)
}

func filepathName(vault string, inode uint64, write bool) string {
	if write {
		return vaultInodeName(vault, inode) + "-write"
	}
	return vaultInodeName(vault, inode)
}

func vaultInodeName(vault string, inode uint64) string {
	return vault + "-" + itoa(inode)
}

func itoa(v uint64) string {
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

func (p *Pool) handlesFor(inode uint64) *inodeHandles {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[inode]
	if !ok {
		h = &inodeHandles{}
		p.handles[inode] = h
	}
	return h
}

// Get opens (creating if necessary) the read or write copy for inode and
// returns it locked behind the per-inode exclusive lock, which the caller
// must release with Release. Opening for write on the first write of a
// session truncates (creates from scratch), per spec §4.2.
func (p *Pool) Get(inode uint64, write bool) (*os.File, error) {
	h := p.handlesFor(inode)
	h.mu.Lock()
	if write {
		if h.write == nil {
			f, err := os.OpenFile(p.ComposePath(inode, true), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				h.mu.Unlock()
				return nil, vaulterr.Wrap(vaulterr.KindIO, err)
			}
			h.write = f
		}
		return h.write, nil
	}
	if h.read == nil {
		f, err := os.OpenFile(p.ComposePath(inode, false), os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			h.mu.Unlock()
			return nil, vaulterr.Wrap(vaulterr.KindIO, err)
		}
		h.read = f
	}
	return h.read, nil
}

// Release drops the per-inode exclusive lock acquired by Get. Must be
// called exactly once per successful Get.
func (p *Pool) Release(inode uint64) {
	p.handlesFor(inode).mu.Unlock()
}

// Read positions at offset (negative measured from end) and returns up to
// size bytes, short-reading at EOF without error (spec §4.2).
func (p *Pool) Read(inode uint64, offset int64, size uint32) ([]byte, error) {
	f, err := p.Get(inode, false)
	if err != nil {
		return nil, err
	}
	defer p.Release(inode)

	whence := io.SeekStart
	if offset < 0 {
		whence = io.SeekEnd
	}
	if _, err := f.Seek(offset, whence); err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return buf[:n], nil
}

// Write writes data into the write copy at offset, creating the write copy
// from the session's first write (spec §4.2).
func (p *Pool) Write(inode uint64, offset int64, data []byte) (uint32, error) {
	f, err := p.Get(inode, true)
	if err != nil {
		return 0, err
	}
	defer p.Release(inode)

	whence := io.SeekStart
	if offset < 0 {
		whence = io.SeekEnd
	}
	if _, err := f.Seek(offset, whence); err != nil {
		return 0, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	n, err := f.Write(data)
	if err != nil {
		return 0, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return uint32(n), nil
}

// Size reports the current size of inode's read copy, or 0 if it has never
// been created.
func (p *Pool) Size(inode uint64) (uint64, error) {
	info, err := os.Stat(p.ComposePath(inode, false))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return uint64(info.Size()), nil
}

// Close drops cached handles for inode and, if modified is true, atomically
// promotes the write copy over the read copy by renaming it, per spec §4.2.
func (p *Pool) Close(inode uint64, modified bool) error {
	h := p.handlesFor(inode)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.read != nil {
		h.read.Close()
		h.read = nil
	}
	hadWrite := h.write != nil
	if hadWrite {
		h.write.Close()
		h.write = nil
	}

	if modified && hadWrite {
		if err := os.Rename(p.ComposePath(inode, true), p.ComposePath(inode, false)); err != nil {
			return vaulterr.Wrap(vaulterr.KindIO, err)
		}
	} else if hadWrite {
		// session ended without being marked modified; drop the residual
		// write copy rather than let it leak.
		os.Remove(p.ComposePath(inode, true))
	}
	return nil
}

// Remove deletes both copies of inode's data file from disk. Used by
// delete() once the last reference is gone (spec §4.4's pending delete queue).
func (p *Pool) Remove(inode uint64) error {
	h := p.handlesFor(inode)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.read != nil {
		h.read.Close()
		h.read = nil
	}
	if h.write != nil {
		h.write.Close()
		h.write = nil
	}
	err1 := os.Remove(p.ComposePath(inode, false))
	err2 := os.Remove(p.ComposePath(inode, true))
	if err1 != nil && !os.IsNotExist(err1) {
		return vaulterr.Wrap(vaulterr.KindIO, err1)
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return vaulterr.Wrap(vaulterr.KindIO, err2)
	}
	p.mu.Lock()
	delete(p.handles, inode)
	p.mu.Unlock()
	return nil
}

// Exists reports whether inode's read copy is present on disk.
func (p *Pool) Exists(inode uint64) bool {
	_, err := os.Stat(p.ComposePath(inode, false))
	return err == nil
}

// CopyTo writes inode's current read-copy contents to dstPath, used by the
// Background Replayer to stage a graveyard file (spec §4.7).
func (p *Pool) CopyTo(inode uint64, dstPath string) error {
	return p.copyFileTo(inode, false, dstPath)
}

// CopyWriteTo writes inode's current write-copy contents (the in-progress,
// not-yet-promoted session) to dstPath. Used to retain the losing side of a
// write conflict in the graveyard for manual merge (spec §9's open question
// on reconciling a savaged fork with a concurrent own-write).
func (p *Pool) CopyWriteTo(inode uint64, dstPath string) error {
	return p.copyFileTo(inode, true, dstPath)
}

func (p *Pool) copyFileTo(inode uint64, write bool, dstPath string) error {
	f, err := p.Get(inode, write)
	if err != nil {
		return err
	}
	defer p.Release(inode)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return vaulterr.Wrap(vaulterr.KindIO, err)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
		return vaulterr.Wrap(vaulterr.KindIO, err)
	}
	dst, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return vaulterr.Wrap(vaulterr.KindIO, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, f); err != nil {
		return vaulterr.Wrap(vaulterr.KindIO, err)
	}
	return nil
}
