package api

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows read-only operations.
// The engine's only write path is the HTTP escalation clear; nothing over gRPC mutates state.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"%s is not a read-only method",
				info.FullMethod,
			)
		}

		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every unary call with its duration and status code
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	// Extract method name from full path (e.g., "/grpc.health.v1.Health/Check" -> "Check")
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	readOnlyPrefixes := []string{
		"Check",
		"Watch",
		"List",
		"Get",
	}

	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(methodName, prefix) {
			return true
		}
	}

	// Default: block
	return false
}
