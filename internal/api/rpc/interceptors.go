package rpc

import (
	"context"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type TokenValidator interface {
	ValidateToken(ctx context.Context, token, ipAddress, userAgent string) (*auth.Principal, error)
}

type principalKey struct{}

// PrincipalFrom returns the caller authenticated by the interceptors.
func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}

// methodPermissions lists the protected methods. Anything else, such as the
// health service, is public.
var methodPermissions = map[string]auth.Permission{
	sensorIngestMethod:       auth.PermIngest,
	sensorStreamAlertsMethod: auth.PermOperator,
	workflowGetMethod:        auth.PermOperator,
	workflowStreamMethod:     auth.PermOperator,
}

func authenticate(ctx context.Context, validator TokenValidator, required auth.Permission) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}

	token := strings.TrimSpace(values[0])
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}

	var ip, userAgent string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ip = p.Addr.String()
	}
	if ua := md.Get("user-agent"); len(ua) > 0 {
		userAgent = ua[0]
	}

	principal, err := validator.ValidateToken(ctx, token, ip, userAgent)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !principal.Has(required) {
		return nil, status.Errorf(codes.PermissionDenied, "missing permission %s", required)
	}
	return context.WithValue(ctx, principalKey{}, principal), nil
}

func unaryAuth(validator TokenValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		required, ok := methodPermissions[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, validator, required)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func streamAuth(validator TokenValidator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		required, ok := methodPermissions[info.FullMethod]
		if !ok {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), validator, required)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

func unaryLogging(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func streamLogging(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Duration("latency", time.Since(start)),
	}
	switch code {
	case codes.OK, codes.Canceled:
		logger.Debug("gRPC call", fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		logger.Error("gRPC call failed", append(fields, zap.Error(err))...)
	default:
		logger.Warn("gRPC call rejected", append(fields, zap.Error(err))...)
	}
}
