package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovnet/fedvault/internal/vaultapi"
)

type fakeVault struct {
	name  string
	attrs map[uint64]vaultapi.Attr
}

func newFakeVault(name string) *fakeVault {
	return &fakeVault{name: name, attrs: make(map[uint64]vaultapi.Attr)}
}

func (f *fakeVault) Name() string { return f.name }

func (f *fakeVault) Attr(ctx context.Context, inode uint64) (vaultapi.Attr, error) {
	a, ok := f.attrs[inode]
	if !ok {
		return vaultapi.Attr{}, assert.AnError
	}
	return a, nil
}

func (f *fakeVault) Read(ctx context.Context, inode uint64, offset int64, size uint32) ([]byte, error) {
	return nil, nil
}
func (f *fakeVault) Write(ctx context.Context, inode uint64, offset int64, data []byte) (uint32, error) {
	return 0, nil
}
func (f *fakeVault) Create(ctx context.Context, parent uint64, name string, kind vaultapi.Kind) (uint64, error) {
	return 5, nil
}
func (f *fakeVault) Open(ctx context.Context, inode uint64, mode vaultapi.OpenMode) error  { return nil }
func (f *fakeVault) Close(ctx context.Context, inode uint64) error                         { return nil }
func (f *fakeVault) Delete(ctx context.Context, inode uint64) error                        { return nil }
func (f *fakeVault) Readdir(ctx context.Context, dir uint64) ([]vaultapi.FileMeta, error) {
	return nil, nil
}
func (f *fakeVault) TearDown(ctx context.Context) error { return nil }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	global := Encode(3, 42)
	prefix, local := Decode(global)
	assert.Equal(t, uint16(3), prefix)
	assert.Equal(t, uint64(42), local)
}

func TestNewAssignsStablePrefixesSorted(t *testing.T) {
	t.Parallel()
	l := New([]string{"zeta", "alpha", "mid"})

	p, ok := l.PrefixOf("alpha")
	require.True(t, ok)
	assert.Equal(t, uint16(1), p)

	p, ok = l.PrefixOf("mid")
	require.True(t, ok)
	assert.Equal(t, uint16(2), p)

	p, ok = l.PrefixOf("zeta")
	require.True(t, ok)
	assert.Equal(t, uint16(3), p)
}

func TestBindUnknownNameFails(t *testing.T) {
	t.Parallel()
	l := New([]string{"alpha"})
	err := l.Bind("nope", newFakeVault("nope"))
	require.Error(t, err)
}

func TestAttrReEncodesInodeAndParent(t *testing.T) {
	t.Parallel()
	l := New([]string{"alpha"})
	v := newFakeVault("alpha")
	v.attrs[7] = vaultapi.Attr{FileMeta: vaultapi.FileMeta{Inode: 7, Name: "f", Parent: 1}}
	require.NoError(t, l.Bind("alpha", v))

	prefix, _ := l.PrefixOf("alpha")
	attr, err := l.Attr(context.Background(), Encode(prefix, 7))
	require.NoError(t, err)
	assert.Equal(t, Encode(prefix, 7), attr.Inode)
	assert.Equal(t, Encode(prefix, 1), attr.Parent)
}

func TestReaddirRootListsConfiguredVaults(t *testing.T) {
	t.Parallel()
	l := New([]string{"beta", "alpha"})

	entries, err := l.Readdir(context.Background(), RootInode)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "beta", entries[1].Name)
	assert.Equal(t, ".", entries[2].Name)
	assert.Equal(t, vaultapi.KindDirectory, entries[0].Kind)
}

func TestDispatchToUnboundVaultFails(t *testing.T) {
	t.Parallel()
	l := New([]string{"alpha"})
	prefix, _ := l.PrefixOf("alpha")

	_, err := l.Attr(context.Background(), Encode(prefix, 1))
	require.Error(t, err)
}

func TestTearDownSucceedsWhenEveryVaultSucceeds(t *testing.T) {
	t.Parallel()
	l := New([]string{"alpha"})
	v := newFakeVault("alpha")
	require.NoError(t, l.Bind("alpha", v))

	err := l.TearDown(context.Background())
	require.NoError(t, err)
}
