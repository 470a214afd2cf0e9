package admin

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the admin service over the daemon's Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's admin socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Stats(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.conn.Invoke(ctx, fullMethod("Stats"), &emptypb.Empty{}, out)
	return out, err
}

func (c *Client) GetPresence(ctx context.Context, userID string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.conn.Invoke(ctx, fullMethod("GetPresence"), wrapperspb.String(userID), out)
	return out, err
}

func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (string, error) {
	list := make([]any, len(members))
	for i, m := range members {
		list[i] = m
	}
	in, err := structpb.NewStruct(map[string]any{"name": name, "members": list})
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fullMethod("CreateGroup"), in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) AddMember(ctx context.Context, chatID, userID string) error {
	in, err := structpb.NewStruct(map[string]any{"chat_id": chatID, "user_id": userID})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, fullMethod("AddMember"), in, new(emptypb.Empty))
}

func (c *Client) OpenDirect(ctx context.Context, a, b string) (string, error) {
	in, err := structpb.NewStruct(map[string]any{"user_a": a, "user_b": b})
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fullMethod("OpenDirect"), in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) ListMessages(ctx context.Context, chatID string, afterSeq int64, limit int) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"chat_id": chatID, "after_seq": afterSeq, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = c.conn.Invoke(ctx, fullMethod("ListMessages"), in, out)
	return out, err
}

// WatchEvents opens a stream of bus events under namespace ("" for all).
func (c *Client) WatchEvents(ctx context.Context, namespace string) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(wrapperspb.String(namespace)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
