package grpc

import (
	"context"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"x-keeper/models"
)

// ServiceName is the fully qualified name of the snapshot push service.
const ServiceName = "xkeeper.sync.v1.SyncService"

const (
	snapshotMethod = "/" + ServiceName + "/Snapshot"
	watchMethod    = "/" + ServiceName + "/Watch"
)

// SyncServer is the server side of SyncService.
type SyncServer interface {
	Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

// ServiceDesc describes SyncService. Messages are protobuf well-known types,
// so no generated code is needed on either side.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "xkeeper/sync/v1/sync.proto",
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Snapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SyncServer).Watch(in, stream)
}

// SnapshotSource is what the service publishes; broadcaster.Broadcaster implements it.
type SnapshotSource interface {
	Snapshot() models.Snapshot
	Subscribe() (<-chan models.Snapshot, func())
}

// Service implements SyncServer over a SnapshotSource.
type Service struct {
	source SnapshotSource
}

// NewService creates the service.
func NewService(source SnapshotSource) *Service {
	return &Service{source: source}
}

func (s *Service) Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	msg, err := EncodeSnapshot(s.source.Snapshot())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode snapshot: %v", err)
	}
	return msg, nil
}

// Watch sends the current snapshot, then one per ledger change. A subscriber that
// falls behind is cut off with Unavailable and is expected to reconnect.
func (s *Service) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ch, cancel := s.source.Subscribe()
	defer cancel()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case snapshot, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "snapshot stream closed")
			}
			msg, err := EncodeSnapshot(snapshot)
			if err != nil {
				return status.Errorf(codes.Internal, "failed to encode snapshot: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// EncodeSnapshot converts a snapshot into a Struct with fields ids, urls, idCount, urlCount and generation.
func EncodeSnapshot(s models.Snapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"ids":        stringList(s.IDs),
		"urls":       stringList(s.URLs),
		"idCount":    s.IDCount,
		"urlCount":   s.URLCount,
		"generation": s.Generation,
	})
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(msg *structpb.Struct) models.Snapshot {
	fields := msg.GetFields()
	return models.Snapshot{
		IDs:        listStrings(fields["ids"]),
		URLs:       listStrings(fields["urls"]),
		IDCount:    int(fields["idCount"].GetNumberValue()),
		URLCount:   int(fields["urlCount"].GetNumberValue()),
		Generation: uint64(fields["generation"].GetNumberValue()),
	}
}

func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func listStrings(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, item := range values {
		out = append(out, item.GetStringValue())
	}
	return out
}
