package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const approvalServicePath = "/expense.approvals.v1.ApprovalService/"

// ApprovalsGRPCClient calls the approval service over gRPC on behalf of one
// user.
type ApprovalsGRPCClient struct {
	conn   *grpc.ClientConn
	userID string
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client
// that identifies every call as userID.
func NewApprovalsGRPCClient(addr, userID string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(forwardMetadata, withUserID(userID)),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &ApprovalsGRPCClient{conn: conn, userID: userID}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ProcessApproval approves or rejects an expense and decodes the result into out.
func (c *ApprovalsGRPCClient) ProcessApproval(ctx context.Context, expenseID, action, comments string, out any) error {
	req := map[string]any{"expenseId": expenseID, "action": action}
	if comments != "" {
		req["comments"] = comments
	}
	return c.call(ctx, "ProcessApproval", req, out)
}

// GetApprovalHistory decodes an expense's history response into out.
func (c *ApprovalsGRPCClient) GetApprovalHistory(ctx context.Context, expenseID string, out any) error {
	return c.call(ctx, "GetApprovalHistory", map[string]any{"expenseId": expenseID}, out)
}

// GetApprovalFlow decodes an expense's flow into out.
func (c *ApprovalsGRPCClient) GetApprovalFlow(ctx context.Context, expenseID string, out any) error {
	return c.call(ctx, "GetApprovalFlow", map[string]any{"expenseId": expenseID}, out)
}

// GetPendingApprovals decodes the caller's pending approvals into out.
func (c *ApprovalsGRPCClient) GetPendingApprovals(ctx context.Context, out any) error {
	return c.call(ctx, "GetPendingApprovals", map[string]any{}, out)
}

func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, req map[string]any, out any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, approvalServicePath+method, in, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	b, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return json.Unmarshal(b, out)
}
