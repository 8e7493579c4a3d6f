package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// ResolveApprovers returns the users eligible to vote at step. An explicit
// approver list wins and is returned in configured order, restricted to the
// step's company; otherwise every company user holding the required role is
// returned, ordered by name then id. Identical configuration and membership
// always produce the same slice.
func ResolveApprovers(ctx context.Context, tx repository.ApprovalTx, step *repository.ApprovalFlowStep) ([]*repository.User, error) {
	if ids := distinct(step.ApproverIDs); len(ids) > 0 {
		users, err := tx.ListUsersByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		out := make([]*repository.User, 0, len(users))
		for _, u := range users {
			if u.CompanyID == step.CompanyID {
				out = append(out, u)
			}
		}
		return out, nil
	}
	return tx.ListUsersByRole(ctx, step.CompanyID, step.RequiredRole)
}

// activeSteps keeps the steps whose amount threshold the expense reaches.
// amount must already be in the company currency.
func activeSteps(steps []*repository.ApprovalFlowStep, amount decimal.Decimal) []*repository.ApprovalFlowStep {
	out := make([]*repository.ApprovalFlowStep, 0, len(steps))
	for _, s := range steps {
		if s.AmountThreshold == nil || amount.GreaterThanOrEqual(*s.AmountThreshold) {
			out = append(out, s)
		}
	}
	return out
}

// loadActiveSteps reads the company's flow and filters it for expense.
// Currency conversion only happens when some step carries a threshold.
func loadActiveSteps(ctx context.Context, tx repository.ApprovalTx, converter client.CurrencyConverter, expense *repository.Expense) ([]*repository.ApprovalFlowStep, error) {
	steps, err := tx.ListSteps(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}

	gated := false
	for _, s := range steps {
		if s.AmountThreshold != nil {
			gated = true
			break
		}
	}
	if !gated {
		return steps, nil
	}

	company, err := tx.GetCompany(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}
	amount, err := converter.Convert(expense.Amount, expense.Currency, company.Currency)
	if err != nil {
		return nil, err
	}
	return activeSteps(steps, amount), nil
}

func refs(users []*repository.User) []repository.UserRef {
	out := make([]repository.UserRef, 0, len(users))
	for _, u := range users {
		out = append(out, u.Ref())
	}
	return out
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
