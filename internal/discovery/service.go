// Package discovery publishes the public session listing over gRPC.
//
// The service has a single unary method, uno.discovery.v1.Discovery/ListSessions,
// taking google.protobuf.Empty and returning a google.protobuf.Struct of the
// form {"sessions": [{"id": ..., "game_id": ...}, ...]}.
package discovery

import (
	"context"
	"iter"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/uno/internal/session"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "uno.discovery.v1.Discovery"

	listSessionsMethod = "/" + ServiceName + "/ListSessions"
)

// DiscoveryServer is the server API for the Discovery service.
type DiscoveryServer interface {
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// SessionSource enumerates public sessions. *session.Registry implements it.
type SessionSource interface {
	PublicSessions() iter.Seq[*session.Session]
}

// Service implements DiscoveryServer over a SessionSource.
type Service struct {
	sessions SessionSource
	logger   *zap.Logger
}

// NewService creates a discovery service.
//
// Precondition: sessions and logger must be non-nil.
func NewService(sessions SessionSource, logger *zap.Logger) *Service {
	return &Service{sessions: sessions, logger: logger}
}

// ListSessions returns every public session.
func (s *Service) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	list := []any{}
	for sess := range s.sessions.PublicSessions() {
		if err := ctx.Err(); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		list = append(list, map[string]any{
			"id":      sess.ID().String(),
			"game_id": sess.GameID(),
		})
	}

	out, err := structpb.NewStruct(map[string]any{"sessions": list})
	if err != nil {
		s.logger.Error("building session listing", zap.Error(err))
		return nil, status.Error(codes.Internal, "building session listing")
	}
	s.logger.Debug("listed sessions", zap.Int("count", len(list)))
	return out, nil
}

// RegisterDiscoveryServer registers srv on s.
func RegisterDiscoveryServer(s grpc.ServiceRegistrar, srv DiscoveryServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiscoveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListSessions",
			Handler:    listSessionsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "uno/discovery/v1/discovery.proto",
}

func listSessionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiscoveryServer).ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: listSessionsMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DiscoveryServer).ListSessions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
