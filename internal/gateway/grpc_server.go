package gateway

import (
	"context"
	"errors"

	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// PolicyGateServiceName — полное имя сервиса; сообщения — google.protobuf.Struct,
// поэтому клиенту не нужен сгенерированный код, только имя метода.
const PolicyGateServiceName = "agentpay.v1.PolicyGate"

// PolicyGateExecuteMethod полный путь для grpc.ClientConn.Invoke.
const PolicyGateExecuteMethod = "/" + PolicyGateServiceName + "/Execute"

// PolicyGateServer — контракт сервиса для grpc.ServiceDesc.
type PolicyGateServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type GRPCGatewayServer struct {
	gateway *PaymentGateway
	logger  *zap.Logger
}

var _ PolicyGateServer = (*GRPCGatewayServer)(nil)

func NewGRPCGatewayServer(gateway *PaymentGateway, logger *zap.Logger) *GRPCGatewayServer {
	return &GRPCGatewayServer{gateway: gateway, logger: logger.Named("grpc-gateway")}
}

// NewGRPCServer собирает gRPC-сервер шлюза: auth-интерцептор, PolicyGate и стандартный health.
func NewGRPCServer(gw *PaymentGateway, v auth.TokenValidator, limiter *AgentLimiter, metrics *Metrics, logger *zap.Logger) *grpc.Server {
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(v, limiter, metrics, logger)))
	RegisterPolicyGateServer(srv, NewGRPCGatewayServer(gw, logger))

	hs := health.NewServer()
	hs.SetServingStatus(PolicyGateServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, hs)
	return srv
}

// RegisterPolicyGateServer регистрирует сервис без protoc-сгенерированного кода.
func RegisterPolicyGateServer(s grpc.ServiceRegistrar, srv PolicyGateServer) {
	s.RegisterService(&policyGateServiceDesc, srv)
}

var policyGateServiceDesc = grpc.ServiceDesc{
	ServiceName: PolicyGateServiceName,
	HandlerType: (*PolicyGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: policyGateExecuteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentpay/v1/policy_gate.proto",
}

func policyGateExecuteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PolicyGateServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PolicyGateExecuteMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PolicyGateServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Execute — тот же пайплайн, что и HTTP /execute. Агент берется из токена.
// Отказ политики — обычный ответ с approved=false, а не gRPC-ошибка.
func (s *GRPCGatewayServer) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agent, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing principal")
	}

	fields := req.GetFields()
	str := func(name string) string { return fields[name].GetStringValue() }

	instr, err := s.gateway.Execute(withTransport(ctx, "grpc"), domain.ExecuteRequest{
		OwnerAddress:     str("ownerAddress"),
		AgentAddress:     agent,
		RecipientAddress: str("recipientAddress"),
		TokenAddress:     str("tokenAddress"),
		Amount:           str("amount"),
		Memo:             str("memo"),
	})

	var vErr *domain.ValidationError
	switch d, isDenial := domain.AsDenial(err); {
	case err == nil:
		return structpb.NewStruct(map[string]interface{}{
			"success":  true,
			"approved": true,
			"transaction": map[string]interface{}{
				"owner":     instr.Owner,
				"recipient": instr.Recipient,
				"token":     instr.Token,
				"amount":    instr.Amount.String(),
				"memo":      instr.Memo,
				"agentPolicy": map[string]interface{}{
					"remainingDaily": instr.AgentPolicy.RemainingDaily.String(),
					"maxPerTx":       instr.AgentPolicy.MaxPerTx.String(),
				},
			},
			"message": "Payment approved. Execute on-chain transaction.",
		})
	case isDenial:
		return structpb.NewStruct(map[string]interface{}{
			"success":  false,
			"approved": false,
			"kind":     string(d.Kind),
			"error":    d.Message(),
			"policyId": d.PolicyID,
		})
	case errors.As(err, &vErr):
		return nil, status.Error(codes.InvalidArgument, vErr.Error())
	default:
		s.logger.Error("grpc execute failed", zap.String("trace_id", TraceIDFromContext(ctx)), zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}
}
