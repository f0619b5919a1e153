package replayer

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovnet/fedvault/internal/localvault"
	"github.com/ovnet/fedvault/internal/oplog"
	"github.com/ovnet/fedvault/internal/remotevault"
	"github.com/ovnet/fedvault/internal/store"
	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaultserver"
)

func TestUintToString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0", uintToString(0))
	assert.Equal(t, "42", uintToString(42))
	assert.Equal(t, "18446744073709551615", uintToString(^uint64(0)))
}

func TestGraveyardNameIsUniquePerCall(t *testing.T) {
	t.Parallel()
	a := graveyardName("alpha", "f.txt", 7)
	b := graveyardName("alpha", "f.txt", 7)
	assert.NotEqual(t, a, b)
}

func TestCoalesceUploadThenDeleteDropsTheUpload(t *testing.T) {
	t.Parallel()
	ops := []vaultapi.PendingOp{
		{Tag: vaultapi.OpUpload, Inode: 5, TargetVersion: vaultapi.Version{Major: 1, Minor: 1}},
		{Tag: vaultapi.OpDelete, Inode: 5},
	}
	out := coalesce(ops)
	require.Len(t, out, 1)
	assert.Equal(t, vaultapi.OpDelete, out[0].Tag)
}

func TestCoalesceUploadThenUploadKeepsLast(t *testing.T) {
	t.Parallel()
	ops := []vaultapi.PendingOp{
		{Tag: vaultapi.OpUpload, Inode: 9, TargetVersion: vaultapi.Version{Major: 1, Minor: 1}},
		{Tag: vaultapi.OpUpload, Inode: 9, TargetVersion: vaultapi.Version{Major: 1, Minor: 2}},
	}
	out := coalesce(ops)
	require.Len(t, out, 1)
	assert.Equal(t, vaultapi.Version{Major: 1, Minor: 2}, out[0].TargetVersion)
}

func TestCoalesceCreateThenDeleteDropsBoth(t *testing.T) {
	t.Parallel()
	ops := []vaultapi.PendingOp{
		{Tag: vaultapi.OpCreate, Parent: 1, Name: "f.txt", Kind: vaultapi.KindFile},
		{Tag: vaultapi.OpDelete, Parent: 1, Name: "f.txt"},
	}
	out := coalesce(ops)
	assert.Empty(t, out)
}

func TestCoalescePreservesUnrelatedOps(t *testing.T) {
	t.Parallel()
	ops := []vaultapi.PendingOp{
		{Tag: vaultapi.OpUpload, Inode: 1, TargetVersion: vaultapi.Version{Major: 1, Minor: 1}},
		{Tag: vaultapi.OpDelete, Inode: 2},
		{Tag: vaultapi.OpCreate, Parent: 1, Name: "other", Kind: vaultapi.KindFile},
	}
	out := coalesce(ops)
	assert.Len(t, out, 3)
}

func startRemote(t *testing.T) (*localvault.Vault, *remotevault.Client, func()) {
	t.Helper()
	dir := t.TempDir()
	remote, err := localvault.Open("alpha", filepath.Join(dir, "meta.db"), filepath.Join(dir, "data"), zerolog.Nop())
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := vaultserver.New(remote, 0, zerolog.Nop())
	grpcServer, err := vaultserver.Serve(lis, srv)
	require.NoError(t, err)

	client := remotevault.New("alpha", lis.Addr().String(), 0, zerolog.Nop())
	teardown := func() {
		client.TearDown(context.Background())
		grpcServer.Stop()
		remote.TearDown(context.Background())
	}
	return remote, client, teardown
}

func TestExecuteUploadStreamsStagedFileToRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	remote, client, teardown := startRemote(t)
	defer teardown()

	inode, err := remote.Create(ctx, store.RootInode, "f.txt", vaultapi.KindFile)
	require.NoError(t, err)

	mirrorDir := t.TempDir()
	mirror, err := localvault.Open("alpha", filepath.Join(mirrorDir, "meta.db"), filepath.Join(mirrorDir, "data"), zerolog.Nop())
	require.NoError(t, err)
	defer mirror.TearDown(ctx)
	require.NoError(t, mirror.Meta().AddFile(store.RootInode, inode, "f.txt", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))

	require.NoError(t, mirror.Open(ctx, inode, vaultapi.ModeReadWrite))
	_, err = mirror.Write(ctx, inode, 0, []byte("queued content"))
	require.NoError(t, err)
	require.NoError(t, mirror.Close(ctx, inode))

	graveyard := t.TempDir()
	r := New("alpha", oplog.New(), client, mirror, graveyard, time.Second, zerolog.Nop())

	op := vaultapi.PendingOp{Tag: vaultapi.OpUpload, Inode: inode, Name: "f.txt", TargetVersion: vaultapi.Version{Major: 1, Minor: 1}}
	require.NoError(t, r.execute(ctx, op))

	attr, err := remote.Attr(ctx, inode)
	require.NoError(t, err)
	assert.Equal(t, vaultapi.Version{Major: 1, Minor: 1}, attr.Version)

	data, err := remote.Read(ctx, inode, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "queued content", string(data))
}

func TestDrainOnceRetriesRemainderOnTransportFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mirrorDir := t.TempDir()
	mirror, err := localvault.Open("alpha", filepath.Join(mirrorDir, "meta.db"), filepath.Join(mirrorDir, "data"), zerolog.Nop())
	require.NoError(t, err)
	defer mirror.TearDown(ctx)

	dead := remotevault.New("alpha", "127.0.0.1:1", 0, zerolog.Nop())
	log := oplog.New()
	log.Append(vaultapi.PendingOp{Tag: vaultapi.OpDelete, Inode: 1})
	log.Append(vaultapi.PendingOp{Tag: vaultapi.OpDelete, Inode: 2})

	r := New("alpha", log, dead, mirror, t.TempDir(), time.Second, zerolog.Nop())
	r.drainOnce(ctx)

	assert.Equal(t, 2, log.Len())
}
