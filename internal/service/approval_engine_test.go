package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

func TestProcessApproval_NoStepsApproves(t *testing.T) {
	f := newFixture(t)

	res, err := f.approve(t, aliceID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.IsComplete)
	assert.Equal(t, repository.StatusApproved, res.Status)
	assert.Nil(t, res.NextStep)

	e := f.expense(t)
	assert.Equal(t, repository.StatusApproved, e.Status)
	assert.Equal(t, 0, e.ApprovalFlowStep)
	require.NotNil(t, e.ApproverID)
	assert.Equal(t, aliceID, *e.ApproverID)
	assert.Equal(t, 1, f.store.HistoryLen())

	require.Len(t, res.Events, 1)
	assert.Equal(t, EventExpenseApproved, res.Events[0].Type)
	assert.Equal(t, []string{employeeID}, res.Events[0].Recipients)
}

func TestProcessApproval_NoStepsRejects(t *testing.T) {
	f := newFixture(t)

	res, err := f.reject(t, aliceID)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.Equal(t, repository.StatusRejected, f.expense(t).Status)
}

func TestProcessApproval_SequentialTwoSteps(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)
	f.sequential(2, repository.RoleAdmin)

	res, err := f.approve(t, aliceID)
	require.NoError(t, err)
	assert.False(t, res.IsComplete)
	require.NotNil(t, res.NextStep)
	assert.Equal(t, 2, *res.NextStep)
	assert.Equal(t, []string{adminID}, refIDs(res.Approvers))
	assert.Equal(t, repository.StatusPending, res.Status)
	assert.Equal(t, 2, f.expense(t).ApprovalFlowStep)

	var needs *ApprovalEvent
	for i := range res.Events {
		if res.Events[i].Type == EventNeedsApproval {
			needs = &res.Events[i]
		}
	}
	require.NotNil(t, needs)
	assert.Equal(t, []string{adminID}, needs.Recipients)
	assert.Equal(t, 2, needs.StepOrder)

	res, err = f.approve(t, adminID)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.Equal(t, repository.StatusApproved, f.expense(t).Status)
	assert.Equal(t, 2, f.store.HistoryLen())
}

func TestProcessApproval_PositionalSuccessor(t *testing.T) {
	f := newFixture(t)
	f.sequential(10, repository.RoleManager)
	f.sequential(40, repository.RoleManager)

	res, err := f.approve(t, aliceID)
	require.NoError(t, err)
	require.NotNil(t, res.NextStep)
	assert.Equal(t, 40, *res.NextStep)
}

func TestProcessApproval_AdminSatisfiesAnyRole(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)

	res, err := f.approve(t, adminID)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
}

func TestProcessApproval_ParallelThreshold(t *testing.T) {
	f := newFixture(t)
	f.parallel(1, repository.RoleManager, 67)

	res, err := f.approve(t, aliceID)
	require.NoError(t, err)
	assert.False(t, res.IsComplete)
	assert.Nil(t, res.NextStep)
	require.NotNil(t, res.Tally)
	assert.Equal(t, 1, res.Tally.Approved)
	assert.Equal(t, 3, res.Tally.Eligible)
	assert.InDelta(t, 33.33, res.Tally.Percentage, 0.01)
	assert.Equal(t, []string{bobID, carolID}, refIDs(res.Approvers))
	assert.Equal(t, 1, f.expense(t).ApprovalFlowStep)

	res, err = f.approve(t, bobID)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.Equal(t, repository.StatusApproved, f.expense(t).Status)
}

func TestProcessApproval_ParallelAdvancesToNextStep(t *testing.T) {
	f := newFixture(t)
	f.parallel(1, repository.RoleManager, 50)
	f.sequential(2, repository.RoleAdmin)

	_, err := f.approve(t, aliceID)
	require.NoError(t, err)
	res, err := f.approve(t, bobID)
	require.NoError(t, err)
	require.NotNil(t, res.NextStep)
	assert.Equal(t, 2, *res.NextStep)
	assert.Equal(t, []string{adminID}, refIDs(res.Approvers))
}

func TestProcessApproval_WrongRoleIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)

	_, err := f.approve(t, employeeID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbiddenStep))
	assert.Contains(t, err.Error(), "manager")

	e := f.expense(t)
	assert.Equal(t, repository.StatusPending, e.Status)
	assert.Equal(t, 0, e.ApprovalFlowStep)
	assert.Zero(t, f.store.HistoryLen())
}

func TestProcessApproval_RejectAtFirstStep(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)
	f.sequential(2, repository.RoleAdmin)

	res, err := f.reject(t, aliceID)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.Nil(t, res.NextStep)

	e := f.expense(t)
	assert.Equal(t, repository.StatusRejected, e.Status)
	assert.Equal(t, 1, e.ApprovalFlowStep)

	require.Len(t, res.Events, 1)
	assert.Equal(t, EventExpenseRejected, res.Events[0].Type)
}

func TestProcessApproval_TerminalExpenseIsAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	_, err := f.approve(t, aliceID)
	require.NoError(t, err)

	for _, act := range []func(*testing.T, string) (*ApprovalResult, error){f.approve, f.reject} {
		_, err = act(t, bobID)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeAlreadyDecided))
		assert.Contains(t, err.Error(), "approved")
	}
	assert.Equal(t, 1, f.store.HistoryLen())
	assert.Equal(t, repository.StatusApproved, f.expense(t).Status)
}

func TestProcessApproval_ParallelRejectionVetoes(t *testing.T) {
	f := newFixture(t)
	f.parallel(1, repository.RoleManager, 34)
	f.store.AddExpense(repository.Expense{
		ID: expenseID, UserID: employeeID, CompanyID: companyID,
		Amount: decimal.NewFromInt(10), Currency: "USD", ApprovalFlowStep: 1,
	})
	f.store.AddHistory(repository.ApprovalHistoryEntry{
		ExpenseID: expenseID, ApproverID: carolID, Action: repository.ActionRejected, StepOrder: 1,
	})

	res, err := f.approve(t, aliceID)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.Equal(t, repository.StatusRejected, res.Status)
	assert.Contains(t, res.Message, "parallel approver")
	assert.Equal(t, repository.StatusRejected, f.expense(t).Status)
}

func TestProcessApproval_DuplicateParallelVote(t *testing.T) {
	f := newFixture(t)
	f.parallel(1, repository.RoleManager, 100)

	_, err := f.approve(t, aliceID)
	require.NoError(t, err)

	_, err = f.approve(t, aliceID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConflict))
	_, err = f.reject(t, aliceID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConflict))

	assert.Equal(t, 1, f.store.HistoryLen())
	assert.Equal(t, repository.StatusPending, f.expense(t).Status)
}

func TestProcessApproval_EmptyEligibleSetNeverCompletes(t *testing.T) {
	f := newFixture(t)
	f.parallel(1, repository.RoleManager, 1, "ghost-1", "ghost-2")

	res, err := f.approve(t, adminID)
	require.NoError(t, err)
	assert.False(t, res.IsComplete)
	require.NotNil(t, res.Tally)
	assert.Zero(t, res.Tally.Eligible)
	assert.Zero(t, res.Tally.Percentage)
}

func TestProcessApproval_ConfigurationDrift(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)
	f.store.AddExpense(repository.Expense{
		ID: expenseID, UserID: employeeID, CompanyID: companyID,
		Amount: decimal.NewFromInt(10), Currency: "USD", ApprovalFlowStep: 7,
	})

	_, err := f.approve(t, aliceID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidStep))
	assert.Zero(t, f.store.HistoryLen())
	assert.Equal(t, 7, f.expense(t).ApprovalFlowStep)
}

func TestProcessApproval_ActorValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.approve(t, "nobody")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	assert.Equal(t, "approver not found", apperrors.MessageOf(err))

	_, err = f.approve(t, outsiderID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbiddenStep))

	_, err = f.engine.ProcessApproval(context.Background(), "missing", aliceID, repository.ActionApproved, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	_, err = f.engine.ProcessApproval(context.Background(), expenseID, aliceID, repository.Action("maybe"), nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))

	assert.Zero(t, f.store.HistoryLen())
}

func TestProcessApproval_PersistenceFailuresLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)
	f.sequential(2, repository.RoleAdmin)

	f.store.FailAppendWith(errors.New("ledger offline"))
	_, err := f.approve(t, aliceID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodePersistence))
	assert.Equal(t, 0, f.expense(t).ApprovalFlowStep)
	f.store.FailAppendWith(nil)

	f.store.FailUpdateWith(errors.New("row store offline"))
	_, err = f.approve(t, aliceID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodePersistence))
	assert.Zero(t, f.store.HistoryLen())
	f.store.FailUpdateWith(nil)

	res, err := f.approve(t, aliceID)
	require.NoError(t, err)
	require.NotNil(t, res.NextStep)
	assert.Equal(t, 1, f.store.HistoryLen())
}

func TestProcessApproval_AmountThresholds(t *testing.T) {
	t.Run("small expense skips gated step", func(t *testing.T) {
		f := newFixture(t)
		f.sequential(1, repository.RoleManager)
		f.store.AddStep(repository.ApprovalFlowStep{
			CompanyID: companyID, StepOrder: 2, RequiredRole: repository.RoleAdmin,
			AmountThreshold: ptr(decimal.NewFromInt(1000)), IsSequential: true, MinApprovalPercentage: 100,
		})

		res, err := f.approve(t, aliceID)
		require.NoError(t, err)
		assert.True(t, res.IsComplete)
	})

	t.Run("converted amount reaches threshold", func(t *testing.T) {
		f := newFixture(t)
		f.sequential(1, repository.RoleManager)
		f.store.AddStep(repository.ApprovalFlowStep{
			CompanyID: companyID, StepOrder: 2, RequiredRole: repository.RoleAdmin,
			AmountThreshold: ptr(decimal.NewFromInt(1000)), IsSequential: true, MinApprovalPercentage: 100,
		})
		// 900 EUR is about 1058.82 USD.
		f.store.AddExpense(repository.Expense{
			ID: expenseID, UserID: employeeID, CompanyID: companyID,
			Amount: decimal.NewFromInt(900), Currency: "EUR",
		})

		res, err := f.approve(t, aliceID)
		require.NoError(t, err)
		require.NotNil(t, res.NextStep)
		assert.Equal(t, 2, *res.NextStep)
	})

	t.Run("no active step falls back to single approval", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddStep(repository.ApprovalFlowStep{
			CompanyID: companyID, StepOrder: 1, RequiredRole: repository.RoleAdmin,
			AmountThreshold: ptr(decimal.NewFromInt(5000)), IsSequential: true, MinApprovalPercentage: 100,
		})

		res, err := f.approve(t, aliceID)
		require.NoError(t, err)
		assert.True(t, res.IsComplete)
		assert.Equal(t, 0, f.expense(t).ApprovalFlowStep)
	})

	t.Run("cursor on a step that no longer applies is invalid", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddStep(repository.ApprovalFlowStep{
			CompanyID: companyID, StepOrder: 1, RequiredRole: repository.RoleManager,
			AmountThreshold: ptr(decimal.NewFromInt(1000)), IsSequential: true, MinApprovalPercentage: 100,
		})
		f.store.AddExpense(repository.Expense{
			ID: expenseID, UserID: employeeID, CompanyID: companyID,
			Amount: decimal.NewFromInt(120), Currency: "USD", ApprovalFlowStep: 1,
		})

		_, err := f.approve(t, aliceID)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidStep))
		assert.Zero(t, f.store.HistoryLen())
		assert.Equal(t, repository.StatusPending, f.expense(t).Status)
		assert.Equal(t, 1, f.expense(t).ApprovalFlowStep)
	})

	t.Run("unknown currency is invalid input", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddStep(repository.ApprovalFlowStep{
			CompanyID: companyID, StepOrder: 1, RequiredRole: repository.RoleManager,
			AmountThreshold: ptr(decimal.NewFromInt(10)), IsSequential: true, MinApprovalPercentage: 100,
		})
		f.store.AddExpense(repository.Expense{
			ID: expenseID, UserID: employeeID, CompanyID: companyID,
			Amount: decimal.NewFromInt(10), Currency: "XXX",
		})

		_, err := f.approve(t, aliceID)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
	})
}

func TestProcessApproval_ConcurrentParallelVotes(t *testing.T) {
	f := newFixture(t)
	const voters = 10
	ids := make([]string, 0, voters)
	for i := 0; i < voters; i++ {
		id := fmt.Sprintf("u-lead-%02d", i)
		f.store.AddUser(repository.User{ID: id, CompanyID: companyID, Name: id, Role: repository.RoleAdmin})
		ids = append(ids, id)
	}
	f.parallel(1, repository.RoleAdmin, 50, ids...)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		completed int
		decided   int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.approve(t, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
				if res.IsComplete {
					completed++
				}
			case apperrors.Is(err, apperrors.ErrCodeAlreadyDecided):
				decided++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 1, completed)
	assert.Equal(t, voters-5, decided)
	assert.Equal(t, 5, f.store.HistoryLen())
	assert.Equal(t, repository.StatusApproved, f.expense(t).Status)
}

func TestGetApprovalHistory(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)
	f.sequential(2, repository.RoleAdmin)

	_, err := f.approve(t, aliceID)
	require.NoError(t, err)
	_, err = f.reject(t, adminID)
	require.NoError(t, err)

	history, err := f.engine.GetApprovalHistory(context.Background(), expenseID, employeeID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, adminID, history[0].ApproverID)
	assert.Equal(t, repository.ActionRejected, history[0].Action)
	require.NotNil(t, history[0].Comments)
	require.NotNil(t, history[0].Approver)
	assert.Equal(t, "Dana", history[0].Approver.Name)
	assert.Equal(t, 1, history[1].StepOrder)

	_, err = f.engine.GetApprovalHistory(context.Background(), expenseID, outsiderID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestGetApprovalFlow(t *testing.T) {
	f := newFixture(t)
	f.sequential(1, repository.RoleManager)
	f.parallel(2, repository.RoleManager, 50, carolID, aliceID)

	_, err := f.approve(t, bobID)
	require.NoError(t, err)

	flow, err := f.engine.GetApprovalFlow(context.Background(), expenseID, adminID)
	require.NoError(t, err)
	assert.Equal(t, 2, flow.CurrentStep)
	require.Len(t, flow.Steps, 2)
	assert.False(t, flow.Steps[0].Current)
	assert.True(t, flow.Steps[1].Current)
	assert.Equal(t, []string{aliceID, bobID, carolID}, refIDs(flow.Steps[0].Approvers))
	assert.Equal(t, []string{carolID, aliceID}, refIDs(flow.Steps[1].Approvers))
}

func TestGetPendingApprovals(t *testing.T) {
	f := newFixture(t)
	f.parallel(1, repository.RoleManager, 100)

	pending, err := f.engine.GetPendingApprovals(context.Background(), aliceID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, expenseID, pending[0].ExpenseID)
	assert.Equal(t, 1, pending[0].StepOrder)
	assert.Equal(t, repository.RoleManager, pending[0].RequiredRole)

	pending, err = f.engine.GetPendingApprovals(context.Background(), employeeID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.approve(t, aliceID)
	require.NoError(t, err)

	pending, err = f.engine.GetPendingApprovals(context.Background(), aliceID)
	require.NoError(t, err)
	assert.Empty(t, pending, "already voted")

	pending, err = f.engine.GetPendingApprovals(context.Background(), bobID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	pending, err = f.engine.GetPendingApprovals(context.Background(), outsiderID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
