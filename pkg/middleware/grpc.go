// Package middleware 提供 gRPC 服务端拦截器
package middleware

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

// TraceIDKey trace id 元数据键
const TraceIDKey = "x-trace-id"

// RecoveryUnaryServerInterceptor panic 恢复拦截器
func RecoveryUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					zap.Any("panic", r),
					zap.String("method", info.FullMethod),
					zap.String("stack", string(debug.Stack())))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()

		return handler(ctx, req)
	}
}

// RecoveryStreamServerInterceptor 流式 panic 恢复拦截器
func RecoveryStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc stream panic recovered",
					zap.Any("panic", r),
					zap.String("method", info.FullMethod),
					zap.String("stack", string(debug.Stack())))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()

		return handler(srv, ss)
	}
}

// UnaryServerInterceptor 记录请求日志并在 context 中附带 trace id
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		traceID := TraceIDFromContext(ctx)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx = logger.NewContext(ctx,
			zap.String("trace_id", traceID),
			zap.String("method", info.FullMethod))

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			logger.Error("grpc request failed",
				zap.String("trace_id", traceID),
				zap.String("method", info.FullMethod),
				zap.Duration("duration", duration),
				zap.String("code", st.Code().String()),
				zap.String("error", st.Message()))
		} else {
			logger.Debug("grpc request completed",
				zap.String("trace_id", traceID),
				zap.String("method", info.FullMethod),
				zap.Duration("duration", duration))
		}
		return resp, err
	}
}

// TraceIDFromContext 从 incoming metadata 提取 trace id
func TraceIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(TraceIDKey); len(values) > 0 {
		return values[0]
	}
	return ""
}
