package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovnet/fedvault/internal/vaultapi"
	"github.com/ovnet/fedvault/internal/vaulterr"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.db")
	s, err := Open(path, time.Now)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSeedsRoot(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	meta, err := s.Attr(RootInode)
	require.NoError(t, err)
	assert.Equal(t, "/", meta.Name)
	assert.Equal(t, vaultapi.KindDirectory, meta.Kind)
	assert.Equal(t, vaultapi.Version{Major: 1, Minor: 0}, meta.Version)
}

func TestAddFileAndAttr(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	require.NoError(t, s.AddFile(RootInode, 2, "a.txt", vaultapi.KindFile, 100, 100, vaultapi.InitialVersion))

	meta, err := s.Attr(2)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", meta.Name)
	assert.Equal(t, RootInode, meta.Parent)

	has, err := s.HasChild(RootInode, "a.txt")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestAddFileDuplicateNameRejected(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	require.NoError(t, s.AddFile(RootInode, 2, "a.txt", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))
	err := s.AddFile(RootInode, 3, "a.txt", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion)
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindFileAlreadyExist, vaulterr.KindOf(err))
}

func TestAddFileNameTooLong(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	long := make([]byte, vaultapi.MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	err := s.AddFile(RootInode, 2, string(long), vaultapi.KindFile, 1, 1, vaultapi.InitialVersion)
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindFileNameTooLong, vaulterr.KindOf(err))
}

func TestAttrNotExist(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	_, err := s.Attr(999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vaulterr.FileNotExist))
}

func TestSetAttrRename(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	require.NoError(t, s.AddFile(RootInode, 2, "a.txt", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))

	newName := "b.txt"
	require.NoError(t, s.SetAttr(2, AttrUpdate{Name: &newName}))

	meta, err := s.Attr(2)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", meta.Name)

	has, _ := s.HasChild(RootInode, "a.txt")
	assert.False(t, has)
	has, _ = s.HasChild(RootInode, "b.txt")
	assert.True(t, has)
}

func TestRemoveFileRequiresEmptyDirectory(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	require.NoError(t, s.AddFile(RootInode, 2, "dir", vaultapi.KindDirectory, 1, 1, vaultapi.InitialVersion))
	require.NoError(t, s.AddFile(2, 3, "child", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))

	err := s.RemoveFile(2)
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindDirectoryNotEmpty, vaulterr.KindOf(err))

	require.NoError(t, s.RemoveFile(3))
	require.NoError(t, s.RemoveFile(2))
}

func TestReaddir(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	require.NoError(t, s.AddFile(RootInode, 2, "a", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))
	require.NoError(t, s.AddFile(RootInode, 3, "b", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))

	self, parent, children, err := s.Readdir(RootInode)
	require.NoError(t, err)
	assert.Equal(t, RootInode, self)
	assert.Equal(t, uint64(0), parent)
	assert.ElementsMatch(t, []uint64{2, 3}, children)
}

func TestReaddirOnFileFails(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	require.NoError(t, s.AddFile(RootInode, 2, "a", vaultapi.KindFile, 1, 1, vaultapi.InitialVersion))

	_, _, _, err := s.Readdir(2)
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindNotDirectory, vaulterr.KindOf(err))
}

func TestNextInodeMonotone(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	first, err := s.NextInode()
	require.NoError(t, err)
	second, err := s.NextInode()
	require.NoError(t, err)
	assert.Greater(t, second, first)

	largest, err := s.LargestInode()
	require.NoError(t, err)
	assert.Equal(t, second, largest)
}
