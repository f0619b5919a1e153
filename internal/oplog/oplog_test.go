package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ovnet/fedvault/internal/vaultapi"
)

func TestAppendAndLen(t *testing.T) {
	t.Parallel()
	l := New()
	assert.Equal(t, 0, l.Len())

	l.Append(vaultapi.PendingOp{Tag: vaultapi.OpUpload, Inode: 1})
	l.Append(vaultapi.PendingOp{Tag: vaultapi.OpDelete, Inode: 2})
	assert.Equal(t, 2, l.Len())
}

func TestSwapEmptiesTheLog(t *testing.T) {
	t.Parallel()
	l := New()
	l.Append(vaultapi.PendingOp{Tag: vaultapi.OpUpload, Inode: 1})

	taken := l.Swap()
	assert.Len(t, taken, 1)
	assert.Equal(t, 0, l.Len())

	assert.Empty(t, l.Swap())
}

func TestPutBackOrdersAheadOfNewWork(t *testing.T) {
	t.Parallel()
	l := New()
	l.Append(vaultapi.PendingOp{Tag: vaultapi.OpUpload, Inode: 2})

	retried := []vaultapi.PendingOp{{Tag: vaultapi.OpDelete, Inode: 1}}
	l.PutBack(retried)

	taken := l.Swap()
	assert.Len(t, taken, 2)
	assert.Equal(t, vaultapi.OpDelete, taken[0].Tag)
	assert.Equal(t, uint64(1), taken[0].Inode)
	assert.Equal(t, vaultapi.OpUpload, taken[1].Tag)
}

func TestPutBackWithNoOpsIsANoop(t *testing.T) {
	t.Parallel()
	l := New()
	l.Append(vaultapi.PendingOp{Tag: vaultapi.OpUpload, Inode: 1})

	l.PutBack(nil)
	assert.Equal(t, 1, l.Len())
}
