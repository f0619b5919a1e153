package refcount

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovnet/fedvault/internal/vaulterr"
)

func TestIncfDecfRoundTrip(t *testing.T) {
	t.Parallel()
	tbl := New()

	require.NoError(t, tbl.Incf(1, RefCount))
	require.NoError(t, tbl.Incf(1, RefCount))
	assert.Equal(t, uint64(2), tbl.Count(1, RefCount))
	assert.True(t, tbl.Nonzero(1, RefCount))

	require.NoError(t, tbl.Decf(1, RefCount))
	assert.Equal(t, uint64(1), tbl.Count(1, RefCount))
}

func TestDecfUnderflow(t *testing.T) {
	t.Parallel()
	tbl := New()

	err := tbl.Decf(1, RefCount)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vaulterr.U64Underflow))
}

func TestCountersAreDisjoint(t *testing.T) {
	t.Parallel()
	tbl := New()

	require.NoError(t, tbl.Incf(1, RefCount))
	require.NoError(t, tbl.Incf(1, ModTrack))
	require.NoError(t, tbl.Incf(1, ModTrack))

	assert.Equal(t, uint64(1), tbl.Count(1, RefCount))
	assert.Equal(t, uint64(2), tbl.Count(1, ModTrack))
	assert.Equal(t, uint64(0), tbl.Count(1, ForkTrack))
}

func TestZeroResetsOnlyNamedCounter(t *testing.T) {
	t.Parallel()
	tbl := New()
	require.NoError(t, tbl.Incf(1, RefCount))
	require.NoError(t, tbl.Incf(1, ModTrack))

	tbl.Zero(1, ModTrack)

	assert.Equal(t, uint64(1), tbl.Count(1, RefCount))
	assert.Equal(t, uint64(0), tbl.Count(1, ModTrack))
}

func TestForgetDropsAllCounters(t *testing.T) {
	t.Parallel()
	tbl := New()
	require.NoError(t, tbl.Incf(1, RefCount))

	tbl.Forget(1)

	assert.Equal(t, uint64(0), tbl.Count(1, RefCount))
	assert.False(t, tbl.Nonzero(1, RefCount))
}

func TestIncfOverflow(t *testing.T) {
	t.Parallel()
	tbl := New()
	tbl.byIno[1] = &counters{refCount: ^uint64(0)}

	err := tbl.Incf(1, RefCount)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vaulterr.U64Overflow))
}
