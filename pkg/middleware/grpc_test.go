package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestRecoveryUnaryServerInterceptor(t *testing.T) {
	interceptor := RecoveryUnaryServerInterceptor()

	resp, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Nil(t, resp)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())

	resp, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestRecoveryStreamServerInterceptor(t *testing.T) {
	interceptor := RecoveryStreamServerInterceptor()
	streamInfo := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := interceptor(nil, nil, streamInfo, func(srv interface{}, ss grpc.ServerStream) error {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestUnaryServerInterceptor_TraceID(t *testing.T) {
	interceptor := UnaryServerInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(TraceIDKey, "trace-1"))

	var seen string
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = TraceIDFromContext(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "trace-1", seen)

	wantErr := status.Error(codes.NotFound, "missing")
	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, wantErr
	})
	assert.True(t, errors.Is(err, wantErr))
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
