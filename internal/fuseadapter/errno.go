package fuseadapter

import (
	"errors"
	"syscall"

	"github.com/ovnet/fedvault/internal/vaulterr"
)

// errnoOf maps a vaulterr.Kind to the closest filesystem errno, the
// Federation boundary's job per spec §7: "User-visible errors are mapped at
// the Federation boundary to the closest filesystem errno equivalent."
func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var ve *vaulterr.Error
	if !errors.As(err, &ve) {
		return syscall.EIO
	}
	switch ve.Kind {
	case vaulterr.KindFileNameTooLong:
		return syscall.ENAMETOOLONG
	case vaulterr.KindFileNotExist:
		return syscall.ENOENT
	case vaulterr.KindNotDirectory:
		return syscall.ENOTDIR
	case vaulterr.KindIsDirectory:
		return syscall.EISDIR
	case vaulterr.KindDirectoryNotEmpty:
		return syscall.ENOTEMPTY
	case vaulterr.KindFileAlreadyExist:
		return syscall.EEXIST
	case vaulterr.KindRpcError:
		return syscall.ENETDOWN
	case vaulterr.KindRemoteError:
		return syscall.EREMOTEIO
	default:
		return syscall.EIO
	}
}
