package api

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsReadOnlyMethod(t *testing.T) {
	tests := []struct {
		method   string
		readOnly bool
	}{
		{"/grpc.health.v1.Health/Check", true},
		{"/grpc.health.v1.Health/Watch", true},
		{"/grpc.health.v1.Health/List", true},
		{"/triage.v1.Ledger/GetAttempts", true},
		{"/triage.v1.Ledger/ClearEscalation", false},
		{"/triage.v1.Engine/RunOnce", false},
		{"Check", false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.readOnly, isReadOnlyMethod(tt.method))
		})
	}
}

func TestReadOnlyInterceptor(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	resp, err := interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/triage.v1.Ledger/ClearEscalation"}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestLoggingInterceptorPassesThrough(t *testing.T) {
	interceptor := LoggingInterceptor(zerolog.Nop())
	want := status.Error(codes.NotFound, "unknown service")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, want
	}

	_, err := interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	assert.Equal(t, want, err)
}
