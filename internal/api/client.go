package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client of the admin service.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClient wraps an existing connection. Closing the client does not close conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) Presence(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetPresence, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RoomStats(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetRoomStats, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UnreadCounts(ctx context.Context, userID int64) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetUnreadCounts, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConversationsRequest selects a listing. Limit 0 uses the daemon's preview
// limit; a negative limit lists everything.
type ConversationsRequest struct {
	UserID     int64
	Limit      int
	ActiveType string
	ActiveID   int64
}

func (c *Client) Conversations(ctx context.Context, req ConversationsRequest) (*structpb.Struct, error) {
	fields := map[string]any{"user_id": req.UserID, "limit": req.Limit}
	if req.ActiveType != "" {
		fields["active_type"] = req.ActiveType
		fields["active_id"] = req.ActiveID
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodListConversations, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch streams bus events with the given kind prefix to fn until ctx ends,
// the server closes the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(*structpb.Struct) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], MethodWatchEvents)
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
