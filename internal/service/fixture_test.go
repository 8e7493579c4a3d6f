package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/repository/memory"
)

const (
	companyID = "acme"
	otherCo   = "globex"
	expenseID = "exp-1"

	employeeID = "u-erin"
	aliceID    = "u-alice"
	bobID      = "u-bob"
	carolID    = "u-carol"
	adminID    = "u-dana"
	outsiderID = "u-zed"
)

type fixture struct {
	store  *memory.Store
	engine *ApprovalEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := memory.New()
	s.AddCompany(repository.Company{ID: companyID, Name: "Acme", Currency: "USD"})
	s.AddCompany(repository.Company{ID: otherCo, Name: "Globex", Currency: "USD"})

	s.AddUser(repository.User{ID: employeeID, CompanyID: companyID, Name: "Erin", Email: "erin@acme.test", Role: repository.RoleEmployee})
	s.AddUser(repository.User{ID: aliceID, CompanyID: companyID, Name: "Alice", Email: "alice@acme.test", Role: repository.RoleManager})
	s.AddUser(repository.User{ID: bobID, CompanyID: companyID, Name: "Bob", Email: "bob@acme.test", Role: repository.RoleManager})
	s.AddUser(repository.User{ID: carolID, CompanyID: companyID, Name: "Carol", Email: "carol@acme.test", Role: repository.RoleManager})
	s.AddUser(repository.User{ID: adminID, CompanyID: companyID, Name: "Dana", Email: "dana@acme.test", Role: repository.RoleAdmin})
	s.AddUser(repository.User{ID: outsiderID, CompanyID: otherCo, Name: "Zed", Email: "zed@globex.test", Role: repository.RoleManager})

	s.AddExpense(repository.Expense{
		ID:        expenseID,
		UserID:    employeeID,
		CompanyID: companyID,
		Amount:    decimal.RequireFromString("120.00"),
		Currency:  "USD",
		Category:  "travel",
	})

	conv, err := client.NewStaticRateConverter("USD", map[string]string{"EUR": "0.85"})
	require.NoError(t, err)

	return &fixture{store: s, engine: NewApprovalEngine(s, conv, logger.Nop())}
}

func (f *fixture) sequential(order int, role repository.Role) {
	f.store.AddStep(repository.ApprovalFlowStep{
		CompanyID: companyID, StepOrder: order, RequiredRole: role,
		IsSequential: true, MinApprovalPercentage: 100,
	})
}

func (f *fixture) parallel(order int, role repository.Role, pct int, approverIDs ...string) {
	f.store.AddStep(repository.ApprovalFlowStep{
		CompanyID: companyID, StepOrder: order, RequiredRole: role,
		IsSequential: false, MinApprovalPercentage: pct, ApproverIDs: approverIDs,
	})
}

func (f *fixture) approve(t *testing.T, actorID string) (*ApprovalResult, error) {
	t.Helper()
	return f.engine.ProcessApproval(context.Background(), expenseID, actorID, repository.ActionApproved, nil)
}

func (f *fixture) reject(t *testing.T, actorID string) (*ApprovalResult, error) {
	t.Helper()
	return f.engine.ProcessApproval(context.Background(), expenseID, actorID, repository.ActionRejected, ptr("not compliant"))
}

func (f *fixture) expense(t *testing.T) repository.Expense {
	t.Helper()
	e, ok := f.store.Expense(expenseID)
	require.True(t, ok)
	return e
}

func ptr[T any](v T) *T { return &v }

func refIDs(refs []repository.UserRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}
