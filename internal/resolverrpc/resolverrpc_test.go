package resolverrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func TestJSONCodecRoundTripsClientMessage(t *testing.T) {
	msg := &ClientMessage{
		Kind:      ClientBegin,
		RequestID: "req-1",
		Begin: &BeginPayload{
			LeftID:  []byte{1, 2, 3},
			RightID: []byte{4, 5, 6},
		},
	}

	data, err := Codec.Marshal(msg)
	require.NoError(t, err)

	var decoded ClientMessage
	require.NoError(t, Codec.Unmarshal(data, &decoded))
	require.Equal(t, msg.Kind, decoded.Kind)
	require.Equal(t, msg.RequestID, decoded.RequestID)
	require.Equal(t, msg.Begin.LeftID, decoded.Begin.LeftID)
	require.Equal(t, msg.Begin.RightID, decoded.Begin.RightID)
}

// echoResolver requests a left diff after begin, sends done once the
// left diff result arrives, and ends the stream on the done result,
// exercising the stream plumbing end to end over an in-memory
// connection.
type echoResolver struct{}

func (echoResolver) Resolve(stream ResolverService_ResolveServer) error {
	for {
		in, err := stream.Recv()
		if err != nil {
			return nil
		}
		switch in.Kind {
		case ClientBegin:
			if err := stream.Send(&ResolverMessage{Kind: ResolverGetLeftDiff, RequestID: "r1"}); err != nil {
				return err
			}
		case ClientLeftDiffResult:
			if err := stream.Send(&ResolverMessage{Kind: ResolverDone, RequestID: "r2"}); err != nil {
				return err
			}
		case ClientDoneResult:
			return nil
		}
	}
}

func dialBufconn(t *testing.T) (ResolverClient, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterResolverServer(srv, echoResolver{})
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		srv.Stop()
	}
	return NewResolverClient(conn), cleanup
}

func TestResolveStreamRoundTripsOverBufconn(t *testing.T) {
	client, cleanup := dialBufconn(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Resolve(ctx, CallOption())
	require.NoError(t, err)

	require.NoError(t, stream.Send(&ClientMessage{Kind: ClientBegin, RequestID: "begin"}))

	first, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, ResolverGetLeftDiff, first.Kind)

	require.NoError(t, stream.Send(&ClientMessage{Kind: ClientLeftDiffResult, RequestID: "begin"}))

	second, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, ResolverDone, second.Kind)

	require.NoError(t, stream.Send(&ClientMessage{Kind: ClientDoneResult, RequestID: "begin"}))
}
