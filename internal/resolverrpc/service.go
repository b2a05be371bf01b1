package resolverrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service name a resolver process registers
// under and the client dials against.
const ServiceName = "pagekv.resolverrpc.Resolver"

// ResolverServer is implemented by an external resolver process. It
// is the gRPC server role even though, at the application layer, it
// is the *client's* result_provider that answers requests sent down
// this stream: the stream direction and the logical request
// direction run opposite ways.
type ResolverServer interface {
	Resolve(ResolverService_ResolveServer) error
}

// ResolverService_ResolveServer is the server-side handle for one
// Resolve stream.
type ResolverService_ResolveServer interface {
	Send(*ResolverMessage) error
	Recv() (*ClientMessage, error)
	grpc.ServerStream
}

type resolveServerStream struct {
	grpc.ServerStream
}

func (s *resolveServerStream) Send(m *ResolverMessage) error {
	return s.ServerStream.SendMsg(m)
}

func (s *resolveServerStream) Recv() (*ClientMessage, error) {
	m := new(ClientMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func resolveHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ResolverServer).Resolve(&resolveServerStream{ServerStream: stream})
}

// ServiceDesc is registered against a *grpc.Server with
// RegisterResolverServer, playing the role protoc-gen-go-grpc would
// otherwise generate from a .proto Resolve rpc definition.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResolverServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Resolve",
			Handler:       resolveHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "resolverrpc.proto",
}

// RegisterResolverServer wires srv into s under ServiceDesc.
func RegisterResolverServer(s grpc.ServiceRegistrar, srv ResolverServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ResolverClient dials a resolver process.
type ResolverClient interface {
	Resolve(ctx context.Context, opts ...grpc.CallOption) (ResolverService_ResolveClient, error)
}

// ResolverService_ResolveClient is the client-side handle for one
// Resolve stream.
type ResolverService_ResolveClient interface {
	Send(*ClientMessage) error
	Recv() (*ResolverMessage, error)
	grpc.ClientStream
}

type resolverClient struct {
	cc grpc.ClientConnInterface
}

// NewResolverClient wraps cc as a ResolverClient. Resolve calls should
// pass CallOption() so they negotiate the JSON codec.
func NewResolverClient(cc grpc.ClientConnInterface) ResolverClient {
	return &resolverClient{cc: cc}
}

func (c *resolverClient) Resolve(ctx context.Context, opts ...grpc.CallOption) (ResolverService_ResolveClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ServiceName+"/Resolve", opts...)
	if err != nil {
		return nil, err
	}
	return &resolveClientStream{ClientStream: stream}, nil
}

type resolveClientStream struct {
	grpc.ClientStream
}

func (s *resolveClientStream) Send(m *ClientMessage) error {
	return s.ClientStream.SendMsg(m)
}

func (s *resolveClientStream) Recv() (*ResolverMessage, error) {
	m := new(ResolverMessage)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
