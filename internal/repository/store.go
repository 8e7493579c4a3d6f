package repository

import "context"

// ApprovalTx is the set of reads and writes the approval engine performs for
// one decision. Implementations scope every call to the same transaction (or
// equivalent isolation) so the decision observes a consistent snapshot.
type ApprovalTx interface {
	GetExpense(ctx context.Context, id string) (*Expense, error)
	GetCompany(ctx context.Context, id string) (*Company, error)
	GetUser(ctx context.Context, id string) (*User, error)

	// ListSteps returns the company's steps sorted ascending by StepOrder.
	ListSteps(ctx context.Context, companyID string) ([]*ApprovalFlowStep, error)

	// ListUsersByRole returns company users holding role, ordered by name then id.
	ListUsersByRole(ctx context.Context, companyID string, role Role) ([]*User, error)
	// ListUsersByIDs returns the users with the given ids in the order given.
	// Unknown ids are skipped.
	ListUsersByIDs(ctx context.Context, ids []string) ([]*User, error)

	// CountByStepAndAction counts distinct approvers who recorded action at
	// stepOrder for the expense.
	CountByStepAndAction(ctx context.Context, expenseID string, stepOrder int, action Action) (int, error)
	// VotersAtStep returns the ids of approvers with any entry at stepOrder.
	VotersAtStep(ctx context.Context, expenseID string, stepOrder int) ([]string, error)
	// ListHistory returns the expense's entries newest first.
	ListHistory(ctx context.Context, expenseID string) ([]*ApprovalHistoryEntry, error)
	// ListPendingExpenses returns the company's pending expenses, oldest first.
	ListPendingExpenses(ctx context.Context, companyID string) ([]*Expense, error)

	AppendHistory(ctx context.Context, entry *ApprovalHistoryEntry) error
	UpdateExpenseState(ctx context.Context, id string, upd ExpenseStateUpdate) error
}

// ApprovalStore hands out ApprovalTx scopes.
type ApprovalStore interface {
	// WithExpenseLock runs fn while holding the expense's exclusive lock. All
	// writes made through tx become visible together when fn returns nil and
	// are discarded when it returns an error. Fails with NOT_FOUND when the
	// expense does not exist.
	WithExpenseLock(ctx context.Context, expenseID string, fn func(ctx context.Context, tx ApprovalTx) error) error

	// View runs fn against a read-only scope without taking any expense lock.
	View(ctx context.Context, fn func(ctx context.Context, tx ApprovalTx) error) error
}

// FlowConfigStore manages a company's approval flow configuration.
type FlowConfigStore interface {
	ListSteps(ctx context.Context, companyID string) ([]*ApprovalFlowStep, error)
	GetStep(ctx context.Context, id, companyID string) (*ApprovalFlowStep, error)
	CreateStep(ctx context.Context, step *ApprovalFlowStep) error
	UpdateStep(ctx context.Context, step *ApprovalFlowStep) error
	DeleteStep(ctx context.Context, id, companyID string) error
	// ReplaceSteps atomically swaps the company's whole flow for steps.
	ReplaceSteps(ctx context.Context, companyID string, steps []*ApprovalFlowStep) error
}
