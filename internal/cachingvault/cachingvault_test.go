package cachingvault

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovnet/fedvault/internal/localvault"
	"github.com/ovnet/fedvault/internal/oplog"
	"github.com/ovnet/fedvault/internal/refcount"
	"github.com/ovnet/fedvault/internal/remotevault"
	"github.com/ovnet/fedvault/internal/store"
	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaulterr"
	"github.com/ovnet/fedvault/internal/vaultserver"
)

// startRemote opens a Local Vault named "remote" and exposes it over a real
// loopback grpc listener, returning a client pointed at it and a teardown func.
func startRemote(t *testing.T) (*localvault.Vault, *remotevault.Client, func()) {
	t.Helper()
	dir := t.TempDir()
	remote, err := localvault.Open("remote", filepath.Join(dir, "meta.db"), filepath.Join(dir, "data"), zerolog.Nop())
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := vaultserver.New(remote, 0, zerolog.Nop())
	grpcServer, err := vaultserver.Serve(lis, srv)
	require.NoError(t, err)

	client := remotevault.New("remote", lis.Addr().String(), 0, zerolog.Nop())
	teardown := func() {
		client.TearDown(context.Background())
		grpcServer.Stop()
		remote.TearDown(context.Background())
	}
	return remote, client, teardown
}

func openMirror(t *testing.T) *localvault.Vault {
	t.Helper()
	dir := t.TempDir()
	mirror, err := localvault.Open("remote", filepath.Join(dir, "meta.db"), filepath.Join(dir, "data"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { mirror.TearDown(context.Background()) })
	return mirror
}

func TestOpenPullsContentFromRemoteIntoMirror(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	remote, client, teardown := startRemote(t)
	defer teardown()

	inode, err := remote.Create(ctx, store.RootInode, "f.txt", vaultapi.KindFile)
	require.NoError(t, err)
	require.NoError(t, remote.Open(ctx, inode, vaultapi.ModeReadWrite))
	_, err = remote.Write(ctx, inode, 0, []byte("from remote"))
	require.NoError(t, err)
	require.NoError(t, remote.Close(ctx, inode))

	mirror := openMirror(t)
	cv := New("remote", mirror, client, oplog.New(), false, false, zerolog.Nop())

	require.NoError(t, cv.Open(ctx, inode, vaultapi.ModeRead))
	data, err := cv.Read(ctx, inode, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "from remote", string(data))
	require.NoError(t, cv.Close(ctx, inode))
}

func TestWriteCloseEnqueuesUploadOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	remote, client, teardown := startRemote(t)
	defer teardown()

	inode, err := remote.Create(ctx, store.RootInode, "f.txt", vaultapi.KindFile)
	require.NoError(t, err)

	mirror := openMirror(t)
	log := oplog.New()
	cv := New("remote", mirror, client, log, false, false, zerolog.Nop())

	require.NoError(t, cv.Open(ctx, inode, vaultapi.ModeReadWrite))
	_, err = cv.Write(ctx, inode, 0, []byte("local edit"))
	require.NoError(t, err)
	require.NoError(t, cv.Close(ctx, inode))

	assert.Equal(t, 1, log.Len())
	ops := log.Swap()
	require.Len(t, ops, 1)
	assert.Equal(t, vaultapi.OpUpload, ops[0].Tag)
	assert.Equal(t, inode, ops[0].Inode)
}

func TestCreateRejectedWhenRemoteUnreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mirror := openMirror(t)
	dead := remotevault.New("remote", "127.0.0.1:1", 0, zerolog.Nop())
	cv := New("remote", mirror, dead, oplog.New(), false, false, zerolog.Nop())

	_, err := cv.Create(ctx, store.RootInode, "f.txt", vaultapi.KindFile)
	require.Error(t, err)
}

func TestDeleteQueuedWhenDisconnectedAndAllowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	remote, client, teardown := startRemote(t)
	inode, err := remote.Create(ctx, store.RootInode, "f.txt", vaultapi.KindFile)
	require.NoError(t, err)
	teardown() // remote now unreachable

	mirror := openMirror(t)
	require.NoError(t, mirror.Meta().AddFile(store.RootInode, inode, "f.txt", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))

	log := oplog.New()
	cv := New("remote", mirror, client, log, true, false, zerolog.Nop())

	require.NoError(t, cv.Delete(ctx, inode))
	assert.Equal(t, 1, log.Len())
}

// TestCloseSurfacesWriteConflictWhenForkedAndModified simulates the spec §9
// scenario: a savage already bumped fork_track for this inode (another peer
// forked it while disconnected), and now this session's own write wants to
// close and bump mod_track too. Close must refuse to guess a winner, stage
// both sides in the graveyard, and return a WriteConflict.
func TestCloseSurfacesWriteConflictWhenForkedAndModified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	remote, client, teardown := startRemote(t)
	defer teardown()

	inode, err := remote.Create(ctx, store.RootInode, "f.txt", vaultapi.KindFile)
	require.NoError(t, err)

	mirror := openMirror(t)
	require.NoError(t, mirror.Meta().AddFile(store.RootInode, inode, "f.txt", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))

	graveyard := t.TempDir()
	cv := New("remote", mirror, client, oplog.New(), false, false, zerolog.Nop())
	cv.SetGraveyard(graveyard)

	require.NoError(t, cv.Open(ctx, inode, vaultapi.ModeReadWrite))
	_, err = cv.Write(ctx, inode, 0, []byte("local edit"))
	require.NoError(t, err)

	// simulate a concurrent savage having forked this inode during the session
	require.NoError(t, cv.refs.Incf(inode, refcount.ForkTrack))

	err = cv.Close(ctx, inode)
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindWriteConflict, vaulterr.KindOf(err))

	entries, rerr := os.ReadDir(graveyard)
	require.NoError(t, rerr)
	require.Len(t, entries, 2)

	// counters reset so a later close of the same inode doesn't reconflict
	assert.False(t, cv.refs.Nonzero(inode, refcount.ModTrack))
	assert.False(t, cv.refs.Nonzero(inode, refcount.ForkTrack))
}
