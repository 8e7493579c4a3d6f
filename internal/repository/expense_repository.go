package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// ExpenseRepository reads expenses and applies engine state updates.
type ExpenseRepository struct {
	q database.Querier
}

// NewExpenseRepository creates an ExpenseRepository on a pool or transaction.
func NewExpenseRepository(q database.Querier) *ExpenseRepository {
	return &ExpenseRepository{q: q}
}

const expenseColumns = `
	id, user_id, company_id, amount::text, currency, category, description,
	status, approver_id, approval_flow_step, created_at, updated_at`

// GetByID retrieves an expense by primary key.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*Expense, error) {
	query := `SELECT` + expenseColumns + `
		FROM expenses
		WHERE id = $1
	`

	e, err := r.scanExpense(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("expense", id)
	}
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to get expense")
	}
	return e, nil
}

// Lock takes the row-level lock on an expense for the rest of the enclosing
// transaction.
func (r *ExpenseRepository) Lock(ctx context.Context, id string) error {
	query := `
		SELECT id
		FROM expenses
		WHERE id = $1
		FOR UPDATE
	`

	var lockedID string
	err := r.q.QueryRow(ctx, query, id).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("expense", id)
	}
	if err != nil {
		return apperrors.Persistence(err, "failed to lock expense")
	}
	return nil
}

// UpdateState applies the non-nil fields of upd in a single statement.
func (r *ExpenseRepository) UpdateState(ctx context.Context, id string, upd ExpenseStateUpdate) error {
	if upd.Empty() {
		return nil
	}

	query := `
		UPDATE expenses
		SET status             = COALESCE($2::expense_status, status),
		    approval_flow_step = COALESCE($3, approval_flow_step),
		    approver_id        = COALESCE($4, approver_id),
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING id
	`

	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}

	var returnedID string
	err := r.q.QueryRow(ctx, query, id, status, upd.ApprovalFlowStep, upd.ApproverID).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("expense", id)
	}
	if err != nil {
		return apperrors.Persistence(err, "failed to update expense state")
	}
	return nil
}

// ListPendingByCompany returns pending expenses for a company, oldest first.
func (r *ExpenseRepository) ListPendingByCompany(ctx context.Context, companyID string) ([]*Expense, error) {
	query := `SELECT` + expenseColumns + `
		FROM expenses
		WHERE company_id = $1 AND status = 'pending'
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list pending expenses")
	}
	defer rows.Close()

	expenses := make([]*Expense, 0)
	for rows.Next() {
		e, err := r.scanExpense(rows)
		if err != nil {
			return nil, apperrors.Persistence(err, "failed to scan expense")
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(err, "failed to list pending expenses")
	}
	return expenses, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type expenseScanner interface {
	Scan(dest ...any) error
}

func (r *ExpenseRepository) scanExpense(row expenseScanner) (*Expense, error) {
	e := &Expense{}
	var amount, status string

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.CompanyID,
		&amount,
		&e.Currency,
		&e.Category,
		&e.Description,
		&status,
		&e.ApproverID,
		&e.ApprovalFlowStep,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	e.Status = ExpenseStatus(status)
	return e, nil
}
