package rpcproto

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ServiceName is the fully qualified gRPC service name, in the same form a
// protoc-generated *_grpc.pb.go would use.
const ServiceName = "fedvault.VaultService"

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// forceGobCodec is applied to every call so that content negotiation always
// lands on our hand-maintained codec (codec.go) instead of grpc's default
// proto codec, which would reject our plain structs.
func forceGobCodec() grpc.CallOption { return grpc.ForceCodec(gobCodec{}) }

// VaultServiceServer is implemented by anything that can serve the wire
// protocol: vaultserver.Server wraps a vaultapi.Vault (Local or Caching) to
// satisfy it.
type VaultServiceServer interface {
	Name(context.Context, *NameRequest) (*NameResponse, error)
	Attr(context.Context, *AttrRequest) (*AttrResponse, error)
	Create(context.Context, *CreateRequest) (*CreateResponse, error)
	Open(context.Context, *OpenRequest) (*OpenResponse, error)
	Close(context.Context, *CloseRequest) (*CloseResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Readdir(context.Context, *ReaddirRequest) (*ReaddirResponse, error)
	TearDown(context.Context, *TearDownRequest) (*TearDownResponse, error)
	Read(*ReadRequest, VaultService_ReadServer) error
	Write(VaultService_WriteServer) error
	Savage(*SavageRequest, VaultService_SavageServer) error
	Submit(VaultService_SubmitServer) error
}

// --- server-side stream wrappers ---

type VaultService_ReadServer interface {
	Send(*ReadChunk) error
	grpc.ServerStream
}

type vaultServiceReadServer struct{ grpc.ServerStream }

func (s *vaultServiceReadServer) Send(m *ReadChunk) error { return s.ServerStream.SendMsg(m) }

type VaultService_WriteServer interface {
	Recv() (*WriteChunk, error)
	SendAndClose(*WriteResponse) error
	grpc.ServerStream
}

type vaultServiceWriteServer struct{ grpc.ServerStream }

func (s *vaultServiceWriteServer) Recv() (*WriteChunk, error) {
	m := new(WriteChunk)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
func (s *vaultServiceWriteServer) SendAndClose(m *WriteResponse) error {
	return s.ServerStream.SendMsg(m)
}

type VaultService_SavageServer interface {
	Send(*SavageChunk) error
	grpc.ServerStream
}

type vaultServiceSavageServer struct{ grpc.ServerStream }

func (s *vaultServiceSavageServer) Send(m *SavageChunk) error { return s.ServerStream.SendMsg(m) }

type VaultService_SubmitServer interface {
	Recv() (*UploadChunk, error)
	SendAndClose(*SubmitResponse) error
	grpc.ServerStream
}

type vaultServiceSubmitServer struct{ grpc.ServerStream }

func (s *vaultServiceSubmitServer) Recv() (*UploadChunk, error) {
	m := new(UploadChunk)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
func (s *vaultServiceSubmitServer) SendAndClose(m *SubmitResponse) error {
	return s.ServerStream.SendMsg(m)
}

// --- unary handlers ---

func nameHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(NameRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).Name(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Name")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).Name(ctx, req.(*NameRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func attrHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AttrRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).Attr(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Attr")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).Attr(ctx, req.(*AttrRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func createHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).Create(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Create")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).Create(ctx, req.(*CreateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func openHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OpenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).Open(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Open")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).Open(ctx, req.(*OpenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func closeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CloseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).Close(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Close")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).Close(ctx, req.(*CloseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Delete")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).Delete(ctx, req.(*DeleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func readdirHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReaddirRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).Readdir(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Readdir")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).Readdir(ctx, req.(*ReaddirRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func tearDownHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TearDownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServiceServer).TearDown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("TearDown")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VaultServiceServer).TearDown(ctx, req.(*TearDownRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// --- streaming handlers ---

func readStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(ReadRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(VaultServiceServer).Read(req, &vaultServiceReadServer{stream})
}

func writeStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(VaultServiceServer).Write(&vaultServiceWriteServer{stream})
}

func savageStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(SavageRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(VaultServiceServer).Savage(req, &vaultServiceSavageServer{stream})
}

func submitStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(VaultServiceServer).Submit(&vaultServiceSubmitServer{stream})
}

// ServiceDesc is registered on a *grpc.Server with RegisterVaultServiceServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Name", Handler: nameHandler},
		{MethodName: "Attr", Handler: attrHandler},
		{MethodName: "Create", Handler: createHandler},
		{MethodName: "Open", Handler: openHandler},
		{MethodName: "Close", Handler: closeHandler},
		{MethodName: "Delete", Handler: deleteHandler},
		{MethodName: "Readdir", Handler: readdirHandler},
		{MethodName: "TearDown", Handler: tearDownHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Read", Handler: readStreamHandler, ServerStreams: true},
		{StreamName: "Write", Handler: writeStreamHandler, ClientStreams: true},
		{StreamName: "Savage", Handler: savageStreamHandler, ServerStreams: true},
		{StreamName: "Submit", Handler: submitStreamHandler, ClientStreams: true},
	},
	Metadata: "fedvault/vaultservice.proto",
}

// RegisterVaultServiceServer registers srv on s.
func RegisterVaultServiceServer(s *grpc.Server, srv VaultServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// --- client ---

// VaultServiceClient is the client stub; remotevault.Client uses it as its
// transport.
type VaultServiceClient interface {
	Name(ctx context.Context, in *NameRequest) (*NameResponse, error)
	Attr(ctx context.Context, in *AttrRequest) (*AttrResponse, error)
	Create(ctx context.Context, in *CreateRequest) (*CreateResponse, error)
	Open(ctx context.Context, in *OpenRequest) (*OpenResponse, error)
	Close(ctx context.Context, in *CloseRequest) (*CloseResponse, error)
	Delete(ctx context.Context, in *DeleteRequest) (*DeleteResponse, error)
	Readdir(ctx context.Context, in *ReaddirRequest) (*ReaddirResponse, error)
	TearDown(ctx context.Context, in *TearDownRequest) (*TearDownResponse, error)
	Read(ctx context.Context, in *ReadRequest) (VaultService_ReadClient, error)
	Write(ctx context.Context) (VaultService_WriteClient, error)
	Savage(ctx context.Context, in *SavageRequest) (VaultService_SavageClient, error)
	Submit(ctx context.Context) (VaultService_SubmitClient, error)
}

type vaultServiceClient struct{ cc *grpc.ClientConn }

// NewVaultServiceClient builds a client stub over an already-dialed connection.
func NewVaultServiceClient(cc *grpc.ClientConn) VaultServiceClient {
	return &vaultServiceClient{cc: cc}
}

func (c *vaultServiceClient) Name(ctx context.Context, in *NameRequest) (*NameResponse, error) {
	out := new(NameResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Name"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) Attr(ctx context.Context, in *AttrRequest) (*AttrResponse, error) {
	out := new(AttrResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Attr"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) Create(ctx context.Context, in *CreateRequest) (*CreateResponse, error) {
	out := new(CreateResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Create"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) Open(ctx context.Context, in *OpenRequest) (*OpenResponse, error) {
	out := new(OpenResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Open"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) Close(ctx context.Context, in *CloseRequest) (*CloseResponse, error) {
	out := new(CloseResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Close"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) Delete(ctx context.Context, in *DeleteRequest) (*DeleteResponse, error) {
	out := new(DeleteResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Delete"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) Readdir(ctx context.Context, in *ReaddirRequest) (*ReaddirResponse, error) {
	out := new(ReaddirResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Readdir"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vaultServiceClient) TearDown(ctx context.Context, in *TearDownRequest) (*TearDownResponse, error) {
	out := new(TearDownResponse)
	if err := c.cc.Invoke(ctx, fullMethod("TearDown"), in, out, forceGobCodec()); err != nil {
		return nil, err
	}
	return out, nil
}

type VaultService_ReadClient interface {
	Recv() (*ReadChunk, error)
	grpc.ClientStream
}

type vaultServiceReadClient struct{ grpc.ClientStream }

func (c *vaultServiceReadClient) Recv() (*ReadChunk, error) {
	m := new(ReadChunk)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *vaultServiceClient) Read(ctx context.Context, in *ReadRequest) (VaultService_ReadClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Read"), forceGobCodec())
	if err != nil {
		return nil, err
	}
	x := &vaultServiceReadClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type VaultService_WriteClient interface {
	Send(*WriteChunk) error
	CloseAndRecv() (*WriteResponse, error)
	grpc.ClientStream
}

type vaultServiceWriteClient struct{ grpc.ClientStream }

func (c *vaultServiceWriteClient) Send(m *WriteChunk) error { return c.ClientStream.SendMsg(m) }
func (c *vaultServiceWriteClient) CloseAndRecv() (*WriteResponse, error) {
	if err := c.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(WriteResponse)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *vaultServiceClient) Write(ctx context.Context) (VaultService_WriteClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], fullMethod("Write"), forceGobCodec())
	if err != nil {
		return nil, err
	}
	return &vaultServiceWriteClient{stream}, nil
}

type VaultService_SavageClient interface {
	Recv() (*SavageChunk, error)
	grpc.ClientStream
}

type vaultServiceSavageClient struct{ grpc.ClientStream }

func (c *vaultServiceSavageClient) Recv() (*SavageChunk, error) {
	m := new(SavageChunk)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *vaultServiceClient) Savage(ctx context.Context, in *SavageRequest) (VaultService_SavageClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[2], fullMethod("Savage"), forceGobCodec())
	if err != nil {
		return nil, err
	}
	x := &vaultServiceSavageClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type VaultService_SubmitClient interface {
	Send(*UploadChunk) error
	CloseAndRecv() (*SubmitResponse, error)
	grpc.ClientStream
}

type vaultServiceSubmitClient struct{ grpc.ClientStream }

func (c *vaultServiceSubmitClient) Send(m *UploadChunk) error { return c.ClientStream.SendMsg(m) }
func (c *vaultServiceSubmitClient) CloseAndRecv() (*SubmitResponse, error) {
	if err := c.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(SubmitResponse)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *vaultServiceClient) Submit(ctx context.Context) (VaultService_SubmitClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[3], fullMethod("Submit"), forceGobCodec())
	if err != nil {
		return nil, err
	}
	return &vaultServiceSubmitClient{stream}, nil
}

// SavageTrailerVersion extracts the Version trailer a Savage server sets
// after streaming its last chunk (see TrailerVersionKey).
func SavageTrailerVersion(stream VaultService_SavageClient) (VersionMsg, bool) {
	md := stream.Trailer()
	return versionFromMD(md)
}

func versionFromMD(md metadata.MD) (VersionMsg, bool) {
	vals := md.Get(TrailerVersionKey)
	if len(vals) == 0 {
		return VersionMsg{}, false
	}
	var major, minor uint32
	if _, err := fmt.Sscanf(vals[0], "%d.%d", &major, &minor); err != nil {
		return VersionMsg{}, false
	}
	return VersionMsg{Major: major, Minor: minor}, true
}

// SetSavageTrailerVersion is used by the server-side Savage handler to
// attach the response Version after streaming the cached bytes.
func SetSavageTrailerVersion(stream VaultService_SavageServer, v VersionMsg) {
	stream.SetTrailer(metadata.Pairs(TrailerVersionKey, fmt.Sprintf("%d.%d", v.Major, v.Minor)))
}
