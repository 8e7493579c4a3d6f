package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// memTx is one ApprovalTx scope. Reads see the committed tables overlaid with
// the scope's own buffered writes.
type memTx struct {
	store    *Store
	readOnly bool

	pendingHistory []repository.ApprovalHistoryEntry
	pendingUpdates map[string]repository.ExpenseStateUpdate
}

func (t *memTx) GetExpense(_ context.Context, id string) (*repository.Expense, error) {
	t.store.mu.RLock()
	e, ok := t.store.expenses[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("expense", id)
	}
	if upd, ok := t.pendingUpdates[id]; ok {
		applyUpdate(&e, upd)
	}
	return &e, nil
}

func (t *memTx) GetCompany(_ context.Context, id string) (*repository.Company, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	c, ok := t.store.companies[id]
	if !ok {
		return nil, apperrors.NotFound("company", id)
	}
	return &c, nil
}

func (t *memTx) GetUser(_ context.Context, id string) (*repository.User, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	u, ok := t.store.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return copyUser(u), nil
}

func (t *memTx) ListSteps(_ context.Context, companyID string) ([]*repository.ApprovalFlowStep, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.listStepsLocked(companyID), nil
}

func (t *memTx) ListUsersByRole(_ context.Context, companyID string, role repository.Role) ([]*repository.User, error) {
	t.store.mu.RLock()
	out := make([]*repository.User, 0)
	for _, u := range t.store.users {
		if u.CompanyID == companyID && u.Role == role {
			out = append(out, copyUser(u))
		}
	}
	t.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ListUsersByIDs(_ context.Context, ids []string) ([]*repository.User, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]*repository.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := t.store.users[id]; ok {
			out = append(out, copyUser(u))
		}
	}
	return out, nil
}

func (t *memTx) CountByStepAndAction(_ context.Context, expenseID string, stepOrder int, action repository.Action) (int, error) {
	approvers := make(map[string]struct{})
	for _, e := range t.entriesFor(expenseID) {
		if e.StepOrder == stepOrder && e.Action == action {
			approvers[e.ApproverID] = struct{}{}
		}
	}
	return len(approvers), nil
}

func (t *memTx) VotersAtStep(_ context.Context, expenseID string, stepOrder int) ([]string, error) {
	seen := make(map[string]struct{})
	voters := make([]string, 0)
	for _, e := range t.entriesFor(expenseID) {
		if e.StepOrder != stepOrder {
			continue
		}
		if _, ok := seen[e.ApproverID]; ok {
			continue
		}
		seen[e.ApproverID] = struct{}{}
		voters = append(voters, e.ApproverID)
	}
	sort.Strings(voters)
	return voters, nil
}

func (t *memTx) ListHistory(_ context.Context, expenseID string) ([]*repository.ApprovalHistoryEntry, error) {
	t.store.mu.RLock()
	records := make([]historyRecord, 0)
	for _, r := range t.store.history {
		if r.entry.ExpenseID == expenseID {
			records = append(records, r)
		}
	}
	users := t.store.users
	out := make([]*repository.ApprovalHistoryEntry, 0, len(records))
	sort.Slice(records, func(i, j int) bool { return records[i].seq > records[j].seq })
	for _, r := range records {
		e := r.entry
		if u, ok := users[e.ApproverID]; ok {
			ref := u.Ref()
			e.Approver = &ref
		}
		out = append(out, &e)
	}
	t.store.mu.RUnlock()
	return out, nil
}

func (t *memTx) ListPendingExpenses(_ context.Context, companyID string) ([]*repository.Expense, error) {
	t.store.mu.RLock()
	out := make([]*repository.Expense, 0)
	for _, e := range t.store.expenses {
		if e.CompanyID == companyID && e.Status == repository.StatusPending {
			out = append(out, &e)
		}
	}
	t.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) AppendHistory(_ context.Context, entry *repository.ApprovalHistoryEntry) error {
	if t.readOnly {
		return apperrors.New(apperrors.ErrCodeInternal, "write in read-only scope")
	}
	t.store.mu.RLock()
	failErr := t.store.failAppend
	now := t.store.now()
	t.store.mu.RUnlock()
	if failErr != nil {
		return apperrors.Persistence(failErr, "failed to append approval history")
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = now
	t.pendingHistory = append(t.pendingHistory, *entry)
	return nil
}

func (t *memTx) UpdateExpenseState(_ context.Context, id string, upd repository.ExpenseStateUpdate) error {
	if t.readOnly {
		return apperrors.New(apperrors.ErrCodeInternal, "write in read-only scope")
	}
	if upd.Empty() {
		return nil
	}
	t.store.mu.RLock()
	failErr := t.store.failUpdate
	_, ok := t.store.expenses[id]
	t.store.mu.RUnlock()
	if failErr != nil {
		return apperrors.Persistence(failErr, "failed to update expense state")
	}
	if !ok {
		return apperrors.NotFound("expense", id)
	}

	t.pendingUpdates[id] = mergeUpdate(t.pendingUpdates[id], upd)
	return nil
}

// entriesFor returns committed plus buffered entries for an expense.
func (t *memTx) entriesFor(expenseID string) []repository.ApprovalHistoryEntry {
	t.store.mu.RLock()
	out := make([]repository.ApprovalHistoryEntry, 0)
	for _, r := range t.store.history {
		if r.entry.ExpenseID == expenseID {
			out = append(out, r.entry)
		}
	}
	t.store.mu.RUnlock()
	for _, e := range t.pendingHistory {
		if e.ExpenseID == expenseID {
			out = append(out, e)
		}
	}
	return out
}
