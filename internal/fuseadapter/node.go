// Package fuseadapter bridges go-fuse/v2's InodeEmbedder callbacks onto the
// Federation Layer. One Node wraps one global inode (federation.Encode) and
// forwards every callback straight through; go-fuse's own inode table keeps
// repeated Lookups of the same global inode collapsed onto the same kernel
// node, since NewInode is always called with StableAttr.Ino set to the
// global inode itself. Node implements the NodeXxxer set directly on itself
// rather than through a separate FileHandle type.
package fuseadapter

import (
	"context"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ovnet/fedvault/internal/federation"
	"github.com/ovnet/fedvault/internal/vaultapi"
)

// Node is the InodeEmbedder for one global inode.
type Node struct {
	fs.Inode

	layer  *federation.Layer
	global uint64
}

var (
	_ fs.InodeEmbedder = (*Node)(nil)
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeFlusher   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
)

// Root builds the InodeEmbedder for the synthetic federation root, meant to
// be passed as fs.Options' Root to fs.Mount.
func Root(layer *federation.Layer) *Node {
	return &Node{layer: layer, global: federation.RootInode}
}

func newChild(layer *federation.Layer, global uint64) *Node {
	return &Node{layer: layer, global: global}
}

func fuseMode(k vaultapi.Kind) uint32 {
	if k == vaultapi.KindDirectory {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

func toFuseAttr(a vaultapi.Attr, out *fuse.Attr) {
	perm := uint32(0644)
	nlink := uint32(1)
	if a.Kind == vaultapi.KindDirectory {
		perm = 0755
		nlink = 2
	}
	*out = fuse.Attr{
		Ino:   a.Inode,
		Size:  a.Size,
		Nlink: nlink,
		Mtime: uint64(a.Mtime),
		Atime: uint64(a.Atime),
		Ctime: uint64(a.Mtime),
		Mode:  fuseMode(a.Kind) | perm,
		Owner: fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())},
	}
}

// findChild scans dir's readdir listing for name, the same lookup go-fuse
// itself would have just done via Lookup - Unlink/Rmdir only get a name, not
// an inode, so they have to re-derive it (spec §6.2's delete takes an inode).
func (n *Node) findChild(ctx context.Context, name string) (vaultapi.FileMeta, syscall.Errno) {
	entries, err := n.layer.Readdir(ctx, n.global)
	if err != nil {
		return vaultapi.FileMeta{}, errnoOf(err)
	}
	for _, e := range entries {
		if e.Name == name {
			return e, 0
		}
	}
	return vaultapi.FileMeta{}, syscall.ENOENT
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, errno := n.findChild(ctx, name)
	if errno != 0 {
		return nil, errno
	}
	attr, err := n.layer.Attr(ctx, child.Inode)
	if err != nil {
		return nil, errnoOf(err)
	}
	toFuseAttr(attr, &out.Attr)
	embedder := newChild(n.layer, child.Inode)
	childInode := n.NewInode(ctx, embedder, fs.StableAttr{
		Mode: fuseMode(child.Kind),
		Ino:  child.Inode,
	})
	return childInode, 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.layer.Readdir(ctx, n.global)
	if err != nil {
		return nil, errnoOf(err)
	}
	out := make([]fuse.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = fuse.DirEntry{Ino: e.Inode, Name: e.Name, Mode: fuseMode(e.Kind)}
	}
	return fs.NewListDirStream(out), 0
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.layer.Attr(ctx, n.global)
	if err != nil {
		return errnoOf(err)
	}
	toFuseAttr(attr, &out.Attr)
	return 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	mode := vaultapi.ModeRead
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		mode = vaultapi.ModeReadWrite
	}
	if err := n.layer.Open(ctx, n.global, mode); err != nil {
		return nil, 0, errnoOf(err)
	}
	return nil, 0, 0
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.layer.Read(ctx, n.global, off, uint32(len(dest)))
	if err != nil {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(data), 0
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.layer.Write(ctx, n.global, off, data)
	if err != nil {
		return 0, errnoOf(err)
	}
	return written, 0
}

// Flush closes this inode's session against the owning vault (spec §6.2's
// close), one call per close(2) on the file descriptor rather than per last
// kernel reference.
func (n *Node) Flush(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return errnoOf(n.layer.Close(ctx, n.global))
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child, err := n.layer.Create(ctx, n.global, name, vaultapi.KindFile)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	if err := n.layer.Open(ctx, child, vaultapi.ModeReadWrite); err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	attr, err := n.layer.Attr(ctx, child)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	toFuseAttr(attr, &out.Attr)
	embedder := newChild(n.layer, child)
	childInode := n.NewInode(ctx, embedder, fs.StableAttr{Mode: fuseMode(vaultapi.KindFile), Ino: child})
	return childInode, nil, 0, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, err := n.layer.Create(ctx, n.global, name, vaultapi.KindDirectory)
	if err != nil {
		return nil, errnoOf(err)
	}
	attr, err := n.layer.Attr(ctx, child)
	if err != nil {
		return nil, errnoOf(err)
	}
	toFuseAttr(attr, &out.Attr)
	embedder := newChild(n.layer, child)
	childInode := n.NewInode(ctx, embedder, fs.StableAttr{Mode: fuseMode(vaultapi.KindDirectory), Ino: child})
	return childInode, 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	child, errno := n.findChild(ctx, name)
	if errno != 0 {
		return errno
	}
	return errnoOf(n.layer.Delete(ctx, child.Inode))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	child, errno := n.findChild(ctx, name)
	if errno != 0 {
		return errno
	}
	return errnoOf(n.layer.Delete(ctx, child.Inode))
}
