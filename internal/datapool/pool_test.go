package datapool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Pool {
	t.Helper()
	p, err := New(t.TempDir(), "alpha")
	require.NoError(t, err)
	return p
}

func TestWriteCloseReadRoundTrip(t *testing.T) {
	t.Parallel()
	p := openTest(t)

	n, err := p.Write(1, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), n)

	require.NoError(t, p.Close(1, true))

	data, err := p.Read(1, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCloseWithoutModifiedDropsWriteCopy(t *testing.T) {
	t.Parallel()
	p := openTest(t)

	_, err := p.Write(1, 0, []byte("draft"))
	require.NoError(t, err)
	require.NoError(t, p.Close(1, false))

	assert.False(t, p.Exists(1))
	_, err = os.Stat(p.ComposePath(1, true))
	assert.True(t, os.IsNotExist(err))
}

func TestReadShortReadsAtEOF(t *testing.T) {
	t.Parallel()
	p := openTest(t)

	_, err := p.Write(2, 0, []byte("ab"))
	require.NoError(t, err)
	require.NoError(t, p.Close(2, true))

	data, err := p.Read(2, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
}

func TestSizeReportsZeroForMissingFile(t *testing.T) {
	t.Parallel()
	p := openTest(t)

	size, err := p.Size(999)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func TestRemoveDeletesBothCopies(t *testing.T) {
	t.Parallel()
	p := openTest(t)

	_, err := p.Write(3, 0, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Close(3, true))
	require.True(t, p.Exists(3))

	require.NoError(t, p.Remove(3))
	assert.False(t, p.Exists(3))
}

func TestCopyToStagesReadCopy(t *testing.T) {
	t.Parallel()
	p := openTest(t)

	_, err := p.Write(4, 0, []byte("staged"))
	require.NoError(t, err)
	require.NoError(t, p.Close(4, true))

	dst := filepath.Join(t.TempDir(), "staged-file")
	require.NoError(t, p.CopyTo(4, dst))

	contents, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "staged", string(contents))
}
