// Package sessionclient lets sibling services resolve gatehouse bearer
// tokens over gRPC.
package sessionclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/httpapi"
)

// requestIDKey is the metadata key carrying the caller's request id.
const requestIDKey = "x-request-id"

// Identity is the session summary returned by Validate.
type Identity struct {
	UserID    int64
	Username  string
	Role      string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// Client wraps the gRPC connection to gatehouse.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client. Without options the transport is insecure.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Validate resolves token. A rejected token maps to auth.ErrUnauthenticated.
func (c *Client) Validate(ctx context.Context, token string) (Identity, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(outgoing(ctx), httpapi.SessionValidateMethod, wrapperspb.String(token), out); err != nil {
		return Identity{}, mapError(err)
	}
	return identityFrom(out)
}

// Healthy reports whether gatehouse answers SERVING.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(outgoing(ctx), &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// WithRequestID tags outgoing calls made with the returned context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

type requestIDCtxKey struct{}

func outgoing(ctx context.Context) context.Context {
	if id, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
		return metadata.AppendToOutgoingContext(ctx, requestIDKey, id)
	}
	return ctx
}

func mapError(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", auth.ErrUnauthenticated, status.Convert(err).Message())
	default:
		return err
	}
}

func identityFrom(s *structpb.Struct) (Identity, error) {
	f := s.GetFields()
	id := Identity{
		UserID:   int64(f["userId"].GetNumberValue()),
		Username: f["username"].GetStringValue(),
		Role:     f["role"].GetStringValue(),
	}
	if raw := f["expiresAt"].GetStringValue(); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Identity{}, fmt.Errorf("expiresAt: %w", err)
		}
		id.ExpiresAt = t
	}
	id.ExpiresIn = time.Duration(f["expiresIn"].GetNumberValue()) * time.Second
	if id.Username == "" {
		return Identity{}, fmt.Errorf("malformed identity: missing username")
	}
	return id, nil
}
