package handler

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

func startGRPC(t *testing.T) (*memory.Store, func(userID string) *client.ApprovalsGRPCClient) {
	t.Helper()

	s := memory.New()
	s.AddCompany(repository.Company{ID: "acme", Name: "Acme", Currency: "USD"})
	s.AddUser(repository.User{ID: "u-erin", CompanyID: "acme", Name: "Erin", Email: "erin@acme.test", Role: repository.RoleEmployee})
	s.AddUser(repository.User{ID: "u-alice", CompanyID: "acme", Name: "Alice", Email: "alice@acme.test", Role: repository.RoleManager})
	s.AddUser(repository.User{ID: "u-bob", CompanyID: "acme", Name: "Bob", Email: "bob@acme.test", Role: repository.RoleManager})
	s.AddExpense(repository.Expense{
		ID: "exp-1", UserID: "u-erin", CompanyID: "acme",
		Amount: decimal.RequireFromString("300"), Currency: "USD", Category: "travel",
	})
	s.AddStep(repository.ApprovalFlowStep{
		CompanyID: "acme", StepOrder: 1, RequiredRole: repository.RoleManager,
		IsSequential: false, MinApprovalPercentage: 100,
	})

	conv, err := client.NewStaticRateConverter("USD", nil)
	require.NoError(t, err)
	inbox, err := repository.OpenNotificationInbox(filepath.Join(t.TempDir(), "inbox.db"), 10)
	require.NoError(t, err)

	log := logger.Nop()
	engine := service.NewApprovalEngine(s, conv, log)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLogger(zerolog.Nop()), UnaryIdentify(engine)))
	RegisterApprovalServiceServer(srv, NewGRPCHandler(engine, service.NewNotificationService(inbox, nil, log), zerolog.Nop()))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		_ = inbox.Close()
	})

	dial := func(userID string) *client.ApprovalsGRPCClient {
		c, err := client.NewApprovalsGRPCClient("passthrough:///bufnet", userID,
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}))
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	return s, dial
}

func TestGRPCProcessApproval(t *testing.T) {
	store, dial := startGRPC(t)
	ctx := context.Background()

	var first service.ApprovalResult
	require.NoError(t, dial("u-alice").ProcessApproval(ctx, "exp-1", "approved", "fine", &first))
	assert.True(t, first.Success)
	assert.False(t, first.IsComplete)
	require.NotNil(t, first.Tally)
	assert.Equal(t, 1, first.Tally.Approved)
	assert.Equal(t, 2, first.Tally.Eligible)

	err := dial("u-alice").ProcessApproval(ctx, "exp-1", "approved", "", nil)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	var second service.ApprovalResult
	require.NoError(t, dial("u-bob").ProcessApproval(ctx, "exp-1", "approved", "", &second))
	assert.True(t, second.IsComplete)
	assert.Equal(t, repository.StatusApproved, second.Status)

	err = dial("u-bob").ProcessApproval(ctx, "exp-1", "rejected", "", nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	e, ok := store.Expense("exp-1")
	require.True(t, ok)
	assert.Equal(t, repository.StatusApproved, e.Status)
}

func TestGRPCErrors(t *testing.T) {
	_, dial := startGRPC(t)
	ctx := context.Background()

	err := dial("").GetPendingApprovals(ctx, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = dial("u-ghost").GetPendingApprovals(ctx, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = dial("u-alice").ProcessApproval(ctx, "", "approved", "", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = dial("u-alice").ProcessApproval(ctx, "exp-1", "maybe", "", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = dial("u-erin").ProcessApproval(ctx, "exp-1", "approved", "", nil)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	err = dial("u-alice").GetApprovalHistory(ctx, "exp-404", nil)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCProcessApprovalRequiresApproverRole(t *testing.T) {
	store, dial := startGRPC(t)
	ctx := context.Background()

	steps, err := store.ListSteps(ctx, "acme")
	require.NoError(t, err)
	for _, s := range steps {
		require.NoError(t, store.DeleteStep(ctx, s.ID, "acme"))
	}

	err = dial("u-erin").ProcessApproval(ctx, "exp-1", "approved", "", nil)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	e, ok := store.Expense("exp-1")
	require.True(t, ok)
	assert.Equal(t, repository.StatusPending, e.Status)
	assert.Zero(t, store.HistoryLen())

	var res service.ApprovalResult
	require.NoError(t, dial("u-alice").ProcessApproval(ctx, "exp-1", "approved", "", &res))
	assert.Equal(t, repository.StatusApproved, res.Status)
}

func TestGRPCQueries(t *testing.T) {
	_, dial := startGRPC(t)
	ctx := context.Background()

	var pending struct {
		Expenses []service.PendingApproval `json:"expenses"`
		Total    int                       `json:"total"`
	}
	require.NoError(t, dial("u-bob").GetPendingApprovals(ctx, &pending))
	assert.Equal(t, 1, pending.Total)
	require.Len(t, pending.Expenses, 1)
	assert.Equal(t, "exp-1", pending.Expenses[0].ExpenseID)

	require.NoError(t, dial("u-bob").ProcessApproval(ctx, "exp-1", "approved", "", nil))

	var history struct {
		History []service.HistoryEntry `json:"history"`
	}
	require.NoError(t, dial("u-erin").GetApprovalHistory(ctx, "exp-1", &history))
	require.Len(t, history.History, 1)
	assert.Equal(t, "u-bob", history.History[0].ApproverID)

	var flow service.ExpenseFlow
	require.NoError(t, dial("u-erin").GetApprovalFlow(ctx, "exp-1", &flow))
	require.Len(t, flow.Steps, 1)
	assert.Len(t, flow.Steps[0].Approvers, 2)
}
