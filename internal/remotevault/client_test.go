package remotevault

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ovnet/fedvault/internal/vaulterr"
)

// A dial failure (nothing listening on the target address) must surface as
// vaulterr.RpcError, not as a generic or FileNotExist error (spec §4.5: "any
// transport error is surfaced as a distinct RpcError kind").
func TestAttrOnUnreachablePeerSurfacesRpcError(t *testing.T) {
	t.Parallel()

	c := New("ghost", "127.0.0.1:1", 0, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.Attr(ctx, 1)
	assert.True(t, vaulterr.IsRpc(err), "got %v", err)
	assert.False(t, assert.ObjectsAreEqual(vaulterr.KindOf(err), vaulterr.KindFileNotExist))
}

func TestDisconnectAllowsRedial(t *testing.T) {
	t.Parallel()

	c := New("ghost", "127.0.0.1:1", 0, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _ = c.Attr(ctx, 1)

	c.Disconnect()
	assert.Nil(t, c.conn)
	assert.Nil(t, c.stub)
}

func TestNameAndAddressReflectConstructorArgs(t *testing.T) {
	t.Parallel()
	c := New("alpha", "10.0.0.1:9000", 0, zerolog.Nop())
	assert.Equal(t, "alpha", c.Name())
	assert.Equal(t, "10.0.0.1:9000", c.Address())
}
