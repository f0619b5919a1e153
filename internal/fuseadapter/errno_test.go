package fuseadapter

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ovnet/fedvault/internal/vaulterr"
)

func TestErrnoOfMapsEveryKnownKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want syscall.Errno
	}{
		{vaulterr.New(vaulterr.KindFileNameTooLong, "x"), syscall.ENAMETOOLONG},
		{vaulterr.NotExist(1), syscall.ENOENT},
		{vaulterr.New(vaulterr.KindNotDirectory, "x"), syscall.ENOTDIR},
		{vaulterr.New(vaulterr.KindIsDirectory, "x"), syscall.EISDIR},
		{vaulterr.NotEmpty(1), syscall.ENOTEMPTY},
		{vaulterr.New(vaulterr.KindFileAlreadyExist, "x"), syscall.EEXIST},
		{vaulterr.Rpc(errors.New("down")), syscall.ENETDOWN},
		{vaulterr.Remote("oops"), syscall.EREMOTEIO},
		{vaulterr.New(vaulterr.KindIO, "x"), syscall.EIO},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errnoOf(c.err))
	}
}

func TestErrnoOfNilIsZero(t *testing.T) {
	t.Parallel()
	assert.EqualValues(t, 0, errnoOf(nil))
}

func TestErrnoOfForeignErrorIsEIO(t *testing.T) {
	t.Parallel()
	assert.Equal(t, syscall.EIO, errnoOf(errors.New("not a vault error")))
}
