package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// PostgresStore implements ApprovalStore and FlowConfigStore on Postgres. The
// per-expense critical section is a transaction holding the expense row lock
// (SELECT ... FOR UPDATE), so concurrent decisions on one expense serialize
// while different expenses proceed independently.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithExpenseLock implements ApprovalStore.
func (s *PostgresStore) WithExpenseLock(ctx context.Context, expenseID string, fn func(ctx context.Context, tx ApprovalTx) error) error {
	err := s.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		scope := newPgScope(tx)
		if err := scope.expenses.Lock(ctx, expenseID); err != nil {
			return err
		}
		return fn(ctx, scope)
	})
	return apperrors.Wrap(err, apperrors.ErrCodePersistence, "approval transaction failed")
}

// View implements ApprovalStore.
func (s *PostgresStore) View(ctx context.Context, fn func(ctx context.Context, tx ApprovalTx) error) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return fn(ctx, newPgScope(s.db))
}

// ListSteps implements FlowConfigStore.
func (s *PostgresStore) ListSteps(ctx context.Context, companyID string) ([]*ApprovalFlowStep, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return NewFlowStepRepository(s.db).ListByCompany(ctx, companyID)
}

// GetStep implements FlowConfigStore.
func (s *PostgresStore) GetStep(ctx context.Context, id, companyID string) (*ApprovalFlowStep, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return NewFlowStepRepository(s.db).GetByID(ctx, id, companyID)
}

// CreateStep implements FlowConfigStore.
func (s *PostgresStore) CreateStep(ctx context.Context, step *ApprovalFlowStep) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return NewFlowStepRepository(s.db).Create(ctx, step)
}

// UpdateStep implements FlowConfigStore.
func (s *PostgresStore) UpdateStep(ctx context.Context, step *ApprovalFlowStep) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return NewFlowStepRepository(s.db).Update(ctx, step)
}

// DeleteStep implements FlowConfigStore.
func (s *PostgresStore) DeleteStep(ctx context.Context, id, companyID string) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return NewFlowStepRepository(s.db).Delete(ctx, id, companyID)
}

// ReplaceSteps implements FlowConfigStore.
func (s *PostgresStore) ReplaceSteps(ctx context.Context, companyID string, steps []*ApprovalFlowStep) error {
	err := s.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := NewFlowStepRepository(tx)
		if err := repo.DeleteByCompany(ctx, companyID); err != nil {
			return err
		}
		for _, step := range steps {
			step.CompanyID = companyID
			if err := repo.Create(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	return apperrors.Wrap(err, apperrors.ErrCodePersistence, "failed to replace approval flow")
}

// ── transaction scope ────────────────────────────────────────────────────────

type pgScope struct {
	expenses  *ExpenseRepository
	directory *DirectoryRepository
	steps     *FlowStepRepository
	history   *ApprovalHistoryRepository
}

func newPgScope(q database.Querier) *pgScope {
	return &pgScope{
		expenses:  NewExpenseRepository(q),
		directory: NewDirectoryRepository(q),
		steps:     NewFlowStepRepository(q),
		history:   NewApprovalHistoryRepository(q),
	}
}

func (p *pgScope) GetExpense(ctx context.Context, id string) (*Expense, error) {
	return p.expenses.GetByID(ctx, id)
}

func (p *pgScope) GetCompany(ctx context.Context, id string) (*Company, error) {
	return p.directory.GetCompany(ctx, id)
}

func (p *pgScope) GetUser(ctx context.Context, id string) (*User, error) {
	return p.directory.GetUser(ctx, id)
}

func (p *pgScope) ListSteps(ctx context.Context, companyID string) ([]*ApprovalFlowStep, error) {
	return p.steps.ListByCompany(ctx, companyID)
}

func (p *pgScope) ListUsersByRole(ctx context.Context, companyID string, role Role) ([]*User, error) {
	return p.directory.ListUsersByRole(ctx, companyID, role)
}

func (p *pgScope) ListUsersByIDs(ctx context.Context, ids []string) ([]*User, error) {
	return p.directory.ListUsersByIDs(ctx, ids)
}

func (p *pgScope) CountByStepAndAction(ctx context.Context, expenseID string, stepOrder int, action Action) (int, error) {
	return p.history.CountByStepAndAction(ctx, expenseID, stepOrder, action)
}

func (p *pgScope) VotersAtStep(ctx context.Context, expenseID string, stepOrder int) ([]string, error) {
	return p.history.VotersAtStep(ctx, expenseID, stepOrder)
}

func (p *pgScope) ListHistory(ctx context.Context, expenseID string) ([]*ApprovalHistoryEntry, error) {
	return p.history.ListForExpense(ctx, expenseID)
}

func (p *pgScope) ListPendingExpenses(ctx context.Context, companyID string) ([]*Expense, error) {
	return p.expenses.ListPendingByCompany(ctx, companyID)
}

func (p *pgScope) AppendHistory(ctx context.Context, entry *ApprovalHistoryEntry) error {
	return p.history.Append(ctx, entry)
}

func (p *pgScope) UpdateExpenseState(ctx context.Context, id string, upd ExpenseStateUpdate) error {
	return p.expenses.UpdateState(ctx, id, upd)
}
