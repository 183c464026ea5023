package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a thin FleetSimulator client over any gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes a unary method with a request value encoded as a Struct and
// decodes the response into out when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, req any, out any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := ToStruct(req)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, resp, opts...); err != nil {
		return nil, err
	}
	if out != nil {
		if err := FromStruct(resp, out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// TickReceiver yields streamed tick summaries.
type TickReceiver interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type tickReceiver struct {
	grpc.ClientStream
}

func (r *tickReceiver) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := r.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WatchTicks opens the server stream of tick summaries.
func (c *Client) WatchTicks(ctx context.Context, req WatchRequest, opts ...grpc.CallOption) (TickReceiver, error) {
	in, err := ToStruct(req)
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodWatchTicks), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &tickReceiver{stream}, nil
}
