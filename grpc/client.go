package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/phuslu/log"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"x-keeper/models"
)

// Client wraps a connection to SyncService.
type Client struct {
	conn          *grpc.ClientConn
	serverAddress string
	timeout       time.Duration
}

// NewClient creates a client for serverAddress. Extra dial options are appended
// to the insecure transport default.
func NewClient(serverAddress string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(serverAddress, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}
	return &Client{conn: conn, serverAddress: serverAddress, timeout: timeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ServerAddress returns the address the client dials.
func (c *Client) ServerAddress() string {
	return c.serverAddress
}

// Snapshot fetches the current ledger snapshot.
func (c *Client) Snapshot(ctx context.Context) (models.Snapshot, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, snapshotMethod, &emptypb.Empty{}, out); err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	return DecodeSnapshot(out), nil
}

// Watch calls fn for every snapshot the server pushes until the stream ends.
// A server-side close returns nil; ctx cancellation returns ctx.Err().
func (c *Client) Watch(ctx context.Context, fn func(models.Snapshot)) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], watchMethod)
	if err != nil {
		return fmt.Errorf("failed to open watch stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("failed to send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close watch request: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		snapshot := DecodeSnapshot(msg)
		log.Debug().Int("ids", snapshot.IDCount).Uint64("generation", snapshot.Generation).Msg("snapshot received")
		fn(snapshot)
	}
}
