package handler

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// ApprovalServiceName is the fully-qualified gRPC service name.
const ApprovalServiceName = "expense.approvals.v1.ApprovalService"

// MetadataUserID is the metadata key carrying the caller's user id.
const MetadataUserID = "x-user-id"

// ApprovalServiceServer is the server API for ApprovalService. Messages are
// google.protobuf.Struct values with the same field names as the HTTP API.
type ApprovalServiceServer interface {
	ProcessApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetApprovalHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetApprovalFlow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPendingApprovals(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterApprovalServiceServer registers srv on s.
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&approvalServiceDesc, srv)
}

var approvalServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessApproval", Handler: unaryHandler(ApprovalServiceServer.ProcessApproval, "ProcessApproval")},
		{MethodName: "GetApprovalHistory", Handler: unaryHandler(ApprovalServiceServer.GetApprovalHistory, "GetApprovalHistory")},
		{MethodName: "GetApprovalFlow", Handler: unaryHandler(ApprovalServiceServer.GetApprovalFlow, "GetApprovalFlow")},
		{MethodName: "GetPendingApprovals", Handler: unaryHandler(ApprovalServiceServer.GetPendingApprovals, "GetPendingApprovals")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expense/approvals/v1/approvals.proto",
}

func unaryHandler(
	call func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
	method string,
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ApprovalServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// GRPCHandler implements ApprovalServiceServer on top of the approval engine.
type GRPCHandler struct {
	engine        *service.ApprovalEngine
	notifications *service.NotificationService
	logger        zerolog.Logger
}

var _ ApprovalServiceServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(engine *service.ApprovalEngine, notifications *service.NotificationService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		engine:        engine,
		notifications: notifications,
		logger:        logger.With().Str("handler", "grpc").Logger(),
	}
}

// UnaryIdentify resolves the x-user-id metadata to a user before every call.
func UnaryIdentify(resolver ActorResolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var userID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(MetadataUserID); len(v) > 0 {
				userID = v[0]
			}
		}
		if userID == "" {
			return nil, status.Error(codes.Unauthenticated, "missing "+MetadataUserID+" metadata")
		}

		actor, err := resolver.Actor(ctx, userID)
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return nil, status.Error(codes.Unauthenticated, "unknown user")
		}
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		return handler(context.WithValue(ctx, contextKeyActor, actor), req)
	}
}

// UnaryLogger writes one log line per call.
func UnaryLogger(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		ev := log.Info()
		if code := status.Code(err); code == codes.Internal || code == codes.Unavailable {
			ev = log.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// ProcessApproval applies an approve/reject action by the calling user.
func (h *GRPCHandler) ProcessApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor := actorFrom(ctx)
	if actor == nil || !slices.Contains(approverRoles, actor.Role) {
		return nil, status.Error(codes.PermissionDenied, "insufficient role")
	}
	expenseID := stringField(req, "expenseId")
	if expenseID == "" {
		return nil, status.Error(codes.InvalidArgument, "expenseId is required")
	}

	var comments *string
	if c := stringField(req, "comments"); c != "" {
		comments = &c
	}

	h.logger.Debug().
		Str("expense_id", expenseID).
		Str("approver_id", actor.ID).
		Msg("gRPC ProcessApproval called")

	action := repository.Action(stringField(req, "action"))
	result, err := h.engine.ProcessApproval(ctx, expenseID, actor.ID, action, comments)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.notifications.Dispatch(context.WithoutCancel(ctx), result.Events)
	return toStruct(result)
}

// GetApprovalHistory returns an expense's audit trail, newest first.
func (h *GRPCHandler) GetApprovalHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	history, err := h.engine.GetApprovalHistory(ctx, stringField(req, "expenseId"), actorFrom(ctx).ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{"history": history})
}

// GetApprovalFlow returns the flow that applies to an expense.
func (h *GRPCHandler) GetApprovalFlow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	flow, err := h.engine.GetApprovalFlow(ctx, stringField(req, "expenseId"), actorFrom(ctx).ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(flow)
}

// GetPendingApprovals lists the expenses awaiting the caller's decision.
func (h *GRPCHandler) GetPendingApprovals(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pending, err := h.engine.GetPendingApprovals(ctx, actorFrom(ctx).ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{"expenses": pending, "total": len(pending)})
}

func stringField(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[name].GetStringValue()
}

// toStruct renders v through its JSON form so gRPC and HTTP responses share
// field names.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := apperrors.MessageOf(err)
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case apperrors.ErrCodeAlreadyDecided:
		return status.Error(codes.FailedPrecondition, msg)
	case apperrors.ErrCodeConflict:
		return status.Error(codes.AlreadyExists, msg)
	case apperrors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case apperrors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case apperrors.ErrCodeForbiddenStep:
		return status.Error(codes.PermissionDenied, msg)
	case apperrors.ErrCodePersistence:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
