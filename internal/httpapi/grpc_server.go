package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"gatehouse.dev/internal/auth"
)

// SessionValidateMethod is the full gRPC method name of session validation.
const SessionValidateMethod = "/gatehouse.v1.SessionService/Validate"

// SessionServiceServer lets sibling services resolve bearer tokens.
type SessionServiceServer interface {
	Validate(ctx context.Context, token *wrapperspb.StringValue) (*structpb.Struct, error)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: "gatehouse.v1.SessionService",
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Validate", Handler: sessionValidateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gatehouse/v1/session.proto",
}

func sessionValidateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).Validate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionValidateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServiceServer).Validate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer serves grpc.health.v1 and the session service.
type GRPCServer struct {
	readiness readinessChecker
	sessions  *auth.SessionAuthority
	health    *health.Server
	log       *zap.Logger
	now       func() time.Time
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker, sessions *auth.SessionAuthority, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{
		readiness: r,
		sessions:  sessions,
		health:    health.NewServer(),
		log:       logger,
		now:       time.Now,
	}
}

// Register installs both services on server and primes health status.
func (s *GRPCServer) Register(server *grpc.Server) {
	healthpb.RegisterHealthServer(server, s.health)
	server.RegisterService(&sessionServiceDesc, s)
	s.RefreshHealth(context.Background())
}

// RefreshHealth maps readiness onto the health service status.
func (s *GRPCServer) RefreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.log.Warn("grpc health not serving", zap.Error(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(sessionServiceDesc.ServiceName, st)
}

// Shutdown marks every service NOT_SERVING.
func (s *GRPCServer) Shutdown() { s.health.Shutdown() }

// Validate resolves a token (bare or with a Bearer prefix) to the identity
// summary, or Unauthenticated.
func (s *GRPCServer) Validate(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := auth.StripBearer(in.GetValue())
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	sess, ok, err := s.sessions.Validate(ctx, token)
	if err != nil {
		s.log.Error("grpc session validate", zap.Error(err))
		return nil, status.Error(codes.Internal, "session lookup failed")
	}
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "session expired or revoked")
	}
	left := sess.ExpiresAt.Sub(s.now())
	if left < 0 {
		left = 0
	}
	out, err := structpb.NewStruct(map[string]any{
		"userId":    sess.UserID,
		"username":  sess.Username,
		"role":      sess.RoleCode,
		"expiresAt": sess.ExpiresAt.UTC().Format(time.RFC3339),
		"expiresIn": int64(left / time.Second),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
