package vaulterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKindOnly(t *testing.T) {
	t.Parallel()

	err := NotExist(42)
	assert.True(t, errors.Is(err, FileNotExist))
	assert.False(t, errors.Is(err, DirectoryNotEmpty))

	wrapped := fmt.Errorf("opening inode: %w", err)
	assert.True(t, errors.Is(wrapped, FileNotExist))
}

func TestConflictCarriesBothVersions(t *testing.T) {
	t.Parallel()

	err := Conflict(7, 3, 5)
	assert.Equal(t, KindWriteConflict, err.Kind)
	assert.EqualValues(t, 7, err.Inode)
	assert.EqualValues(t, 3, err.LocalVersion)
	assert.EqualValues(t, 5, err.RemoteVersion)
}

func TestWrapUnwrapsToUnderlyingError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("disk full")
	err := Wrap(KindIO, sentinel)
	assert.True(t, errors.Is(err, sentinel))
}

func TestRpcIsDetectedThroughWrapping(t *testing.T) {
	t.Parallel()

	transportErr := errors.New("connection refused")
	err := fmt.Errorf("dialing peer: %w", Rpc(transportErr))
	assert.True(t, IsRpc(err))
	assert.Equal(t, KindRpcError, KindOf(err))
}

func TestKindOfOnForeignErrorIsNone(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindNone, KindOf(errors.New("not a vault error")))
}

func TestKindStringCoversNamedKinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "FileNotExist", KindFileNotExist.String())
	assert.Equal(t, "WriteConflict", KindWriteConflict.String())
	assert.Equal(t, "Misc", Kind(999).String())
}
