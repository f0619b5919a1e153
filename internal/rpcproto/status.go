package rpcproto

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ovnet/fedvault/internal/vaulterr"
)

// ErrorToStatus encodes a *vaulterr.Error as a gRPC status whose message
// carries the error's kind, inode, both versions and message as one
// '|'-separated string (the fields of ErrorMsg; see encodeErrorMsg).
// codes.NotFound conveys FileNotExist, codes.Unavailable conveys RpcError,
// and every other kind, like a non-vault error, is sent as codes.Unknown.
func ErrorToStatus(err error) error {
	if err == nil {
		return nil
	}
	var ve *vaulterr.Error
	if !errors.As(err, &ve) {
		return status.Error(codes.Unknown, err.Error())
	}
	msg := encodeErrorMsg(ve)
	switch ve.Kind {
	case vaulterr.KindFileNotExist:
		return status.Error(codes.NotFound, msg)
	case vaulterr.KindRpcError:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Unknown, msg)
	}
}

// StatusToError decodes a gRPC status (typically observed client-side after
// a failed Invoke/Recv) back into a *vaulterr.Error. Errors without a gRPC
// status, and Unavailable/DeadlineExceeded/Canceled/Unauthenticated
// statuses, become RpcError; any other status whose message is not an
// encoded vault error becomes FileNotExist (for NotFound) or RemoteError.
func StatusToError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return vaulterr.Rpc(err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unauthenticated:
		return vaulterr.Rpc(err)
	case codes.NotFound:
		if ve, ok := decodeErrorMsg(st.Message()); ok {
			return ve
		}
		return vaulterr.NotExist(0)
	default:
		if ve, ok := decodeErrorMsg(st.Message()); ok {
			return ve
		}
		return vaulterr.Remote(st.Message())
	}
}

// encodeErrorMsg renders a *vaulterr.Error as a compact, parseable string so
// it survives the status-message round trip without needing protobuf
// "details" support from our hand-rolled codec.
func encodeErrorMsg(ve *vaulterr.Error) string {
	return ve.Kind.String() + "|" + fmtUint(ve.Inode) + "|" + fmtUint(ve.LocalVersion) + "|" + fmtUint(ve.RemoteVersion) + "|" + ve.Message
}

func decodeErrorMsg(s string) (*vaulterr.Error, bool) {
	parts := splitN(s, '|', 5)
	if len(parts) != 5 {
		return nil, false
	}
	kind, ok := kindFromString(parts[0])
	if !ok {
		return nil, false
	}
	return &vaulterr.Error{
		Kind:          kind,
		Inode:         parseUint(parts[1]),
		LocalVersion:  parseUint(parts[2]),
		RemoteVersion: parseUint(parts[3]),
		Message:       parts[4],
	}, true
}

func kindFromString(s string) (vaulterr.Kind, bool) {
	for k := vaulterr.KindNone; k <= vaulterr.KindIO; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return vaulterr.KindNone, false
}

func fmtUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func parseUint(s string) uint64 {
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return v
		}
		v = v*10 + uint64(c-'0')
	}
	return v
}

func splitN(s string, sep byte, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	count := 0
	for i := 0; i < len(s) && count < n-1; i++ {
		if s[i] == sep {
			parts = append(parts, s[start:i])
			start = i + 1
			count++
		}
	}
	parts = append(parts, s[start:])
	return parts
}
