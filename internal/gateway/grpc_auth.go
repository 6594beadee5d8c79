package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryAuthInterceptor проверяет Bearer-токен в метаданных gRPC вызова.
// Health-check пропускается без токена; лимитер применяется после проверки токена.
func UnaryAuthInterceptor(v auth.TokenValidator, limiter *AgentLimiter, metrics *Metrics, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if info.FullMethod == grpc_health_v1.Health_Check_FullMethodName {
			return handler(ctx, req)
		}

		// 1. Метаданные (в gRPC ключи всегда в нижнем регистре)
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		// 2. Trace-ID, как в HTTP
		traceID := uuid.NewString()
		if ids := md.Get("x-trace-id"); len(ids) > 0 && ids[0] != "" {
			traceID = ids[0]
		}
		ctx = WithTraceID(ctx, traceID)

		// 3. Токен
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing access token")
		}
		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		// 4. Лимит на агента
		if !limiter.Allow(claims.Subject) {
			if metrics != nil {
				metrics.RateLimited.WithLabelValues("grpc").Inc()
			}
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(auth.WithPrincipal(ctx, claims.Subject), req)
	}
}
