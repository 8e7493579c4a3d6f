package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// ApprovalHistoryRepository appends and reads immutable approval ledger entries.
type ApprovalHistoryRepository struct {
	q database.Querier
}

// NewApprovalHistoryRepository creates an ApprovalHistoryRepository.
func NewApprovalHistoryRepository(q database.Querier) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{q: q}
}

// Append inserts one entry. The table has an update/delete-prevention trigger
// so this is the only mutation exposed.
func (r *ApprovalHistoryRepository) Append(ctx context.Context, entry *ApprovalHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO approval_history
		    (id, expense_id, approver_id, action, step_order, comments)
		VALUES ($1, $2, $3, $4::approval_action, $5, $6)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.ID,
		entry.ExpenseID,
		entry.ApproverID,
		string(entry.Action),
		entry.StepOrder,
		entry.Comments,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return apperrors.Persistence(err, "failed to append approval history")
	}
	return nil
}

// CountByStepAndAction counts distinct approvers with action at stepOrder.
func (r *ApprovalHistoryRepository) CountByStepAndAction(ctx context.Context, expenseID string, stepOrder int, action Action) (int, error) {
	query := `
		SELECT COUNT(DISTINCT approver_id)
		FROM approval_history
		WHERE expense_id = $1 AND step_order = $2 AND action = $3::approval_action
	`

	var n int
	if err := r.q.QueryRow(ctx, query, expenseID, stepOrder, string(action)).Scan(&n); err != nil {
		return 0, apperrors.Persistence(err, "failed to count approval votes")
	}
	return n, nil
}

// VotersAtStep returns the distinct approvers with any entry at stepOrder.
func (r *ApprovalHistoryRepository) VotersAtStep(ctx context.Context, expenseID string, stepOrder int) ([]string, error) {
	query := `
		SELECT DISTINCT approver_id
		FROM approval_history
		WHERE expense_id = $1 AND step_order = $2
		ORDER BY approver_id
	`

	rows, err := r.q.Query(ctx, query, expenseID, stepOrder)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list voters")
	}
	defer rows.Close()

	voters := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Persistence(err, "failed to scan voter")
		}
		voters = append(voters, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(err, "failed to list voters")
	}
	return voters, nil
}

// ListForExpense returns the audit trail for an expense, newest first, with
// the approver's public fields attached.
func (r *ApprovalHistoryRepository) ListForExpense(ctx context.Context, expenseID string) ([]*ApprovalHistoryEntry, error) {
	query := `
		SELECT h.id, h.expense_id, h.approver_id, h.action, h.step_order,
		       h.comments, h.created_at,
		       u.name, u.email, u.role
		FROM approval_history h
		JOIN users u ON u.id = h.approver_id
		WHERE h.expense_id = $1
		ORDER BY h.created_at DESC, h.id DESC
	`

	rows, err := r.q.Query(ctx, query, expenseID)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to get approval history")
	}
	defer rows.Close()

	entries := make([]*ApprovalHistoryEntry, 0)
	for rows.Next() {
		e := &ApprovalHistoryEntry{}
		ref := &UserRef{}
		var action, role string
		err := rows.Scan(
			&e.ID,
			&e.ExpenseID,
			&e.ApproverID,
			&action,
			&e.StepOrder,
			&e.Comments,
			&e.CreatedAt,
			&ref.Name,
			&ref.Email,
			&role,
		)
		if err != nil {
			return nil, apperrors.Persistence(err, "failed to scan approval history entry")
		}
		e.Action = Action(action)
		ref.ID = e.ApproverID
		ref.Role = Role(role)
		e.Approver = ref
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(err, "failed to get approval history")
	}
	return entries, nil
}
