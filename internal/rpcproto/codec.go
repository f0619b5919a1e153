package rpcproto

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package exactly the way a
// protoc-generated "proto" codec would be; the client stubs in service.go
// select it on every call with grpc.ForceCodec, and the server finds it by
// the content-subtype that carries.
// encoding.RegisterCodec is a supported, public grpc extension point for
// exactly this purpose - see google.golang.org/grpc/encoding/encoding.go.
const codecName = "fedvaultgob"

// gobCodec marshals the plain Go structs in messages.go with encoding/gob.
// No protoc toolchain is available in this environment to generate real
// protobuf bindings (see DESIGN.md), so the wire messages are carried over
// genuine gRPC transport - real dialing, streaming, deadlines, status codes
// - using a codec gRPC was designed to allow swapping in.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// CallContentSubtype returns the codec's content-subtype name, usable with
// grpc.CallContentSubtype. The client stubs in this package do not call it;
// they select the codec with grpc.ForceCodec.
func CallContentSubtype() string { return codecName }

// TrailerVersionKey is the gRPC trailer metadata key Savage uses to carry
// the response Version alongside its streamed byte chunks (spec §4.5:
// savage returns (bytes, version); streaming the bytes and trailing the
// version avoids needing a length-prefixed envelope per chunk).
const TrailerVersionKey = "fedvault-version"
