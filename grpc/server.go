package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/phuslu/log"
	grpc "google.golang.org/grpc"
)

// NewServer returns a gRPC server with SyncService registered.
func NewServer(source SnapshotSource, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	s.RegisterService(&ServiceDesc, NewService(source))
	return s
}

// Serve listens on addr and serves until ctx is cancelled.
func Serve(ctx context.Context, addr string, source SnapshotSource) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s := NewServer(source)

	go func() {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("grpc sync service listening")
	if err := s.Serve(ln); err != nil {
		return fmt.Errorf("grpc server stopped: %w", err)
	}
	return nil
}
