// Package memory is an in-process implementation of the approval stores. It
// backs the "memory" store kind for local development and stands in for
// Postgres in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

type historyRecord struct {
	seq   int64
	entry repository.ApprovalHistoryEntry
}

// Store keeps every table in maps guarded by one RWMutex, plus a mutex per
// expense that plays the role of the row lock.
type Store struct {
	mu        sync.RWMutex
	companies map[string]repository.Company
	users     map[string]repository.User
	expenses  map[string]repository.Expense
	steps     map[string]repository.ApprovalFlowStep
	history   []historyRecord
	seq       int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	failAppend error
	failUpdate error

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		companies: make(map[string]repository.Company),
		users:     make(map[string]repository.User),
		expenses:  make(map[string]repository.Expense),
		steps:     make(map[string]repository.ApprovalFlowStep),
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// ── seeding ──────────────────────────────────────────────────────────────────

// AddCompany inserts or replaces a company.
func (s *Store) AddCompany(c repository.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.companies[c.ID] = c
}

// AddUser inserts or replaces a user.
func (s *Store) AddUser(u repository.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
}

// AddExpense inserts or replaces an expense. A blank status means pending.
func (s *Store) AddExpense(e repository.Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Status == "" {
		e.Status = repository.StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.UpdatedAt = e.CreatedAt
	s.expenses[e.ID] = e
}

// AddStep inserts a flow step, assigning an id when blank.
func (s *Store) AddStep(step repository.ApprovalFlowStep) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	step.ApproverIDs = append([]string(nil), step.ApproverIDs...)
	step.CreatedAt = s.now()
	step.UpdatedAt = step.CreatedAt
	s.steps[step.ID] = step
	return step.ID
}

// AddHistory appends a committed ledger entry directly, bypassing the engine.
func (s *Store) AddHistory(entry repository.ApprovalHistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.seq++
	s.history = append(s.history, historyRecord{seq: s.seq, entry: entry})
}

// FailAppendWith makes every subsequent history append fail with err. Pass
// nil to clear.
func (s *Store) FailAppendWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = err
}

// FailUpdateWith makes every subsequent expense update fail with err. Pass
// nil to clear.
func (s *Store) FailUpdateWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdate = err
}

// Expense returns a copy of the stored expense.
func (s *Store) Expense(id string) (repository.Expense, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.expenses[id]
	return e, ok
}

// HistoryLen returns the number of ledger entries across all expenses.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// ── ApprovalStore ────────────────────────────────────────────────────────────

// WithExpenseLock implements repository.ApprovalStore. Writes made through tx
// are buffered and applied together only when fn returns nil.
func (s *Store) WithExpenseLock(ctx context.Context, expenseID string, fn func(ctx context.Context, tx repository.ApprovalTx) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Persistence(err, "approval transaction failed")
	}

	s.mu.RLock()
	_, ok := s.expenses[expenseID]
	s.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("expense", expenseID)
	}

	lock := s.expenseLock(expenseID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{store: s, pendingUpdates: make(map[string]repository.ExpenseStateUpdate)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

// View implements repository.ApprovalStore.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx repository.ApprovalTx) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Persistence(err, "read failed")
	}
	return fn(ctx, &memTx{store: s, readOnly: true})
}

func (s *Store) expenseLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, e := range tx.pendingHistory {
		s.seq++
		e.CreatedAt = now
		s.history = append(s.history, historyRecord{seq: s.seq, entry: e})
	}
	for id, upd := range tx.pendingUpdates {
		exp, ok := s.expenses[id]
		if !ok {
			continue
		}
		applyUpdate(&exp, upd)
		exp.UpdatedAt = now
		s.expenses[id] = exp
	}
}

func applyUpdate(e *repository.Expense, upd repository.ExpenseStateUpdate) {
	if upd.Status != nil {
		e.Status = *upd.Status
	}
	if upd.ApprovalFlowStep != nil {
		e.ApprovalFlowStep = *upd.ApprovalFlowStep
	}
	if upd.ApproverID != nil {
		id := *upd.ApproverID
		e.ApproverID = &id
	}
}

// mergeUpdate folds next into prev so later fields win.
func mergeUpdate(prev, next repository.ExpenseStateUpdate) repository.ExpenseStateUpdate {
	if next.Status != nil {
		prev.Status = next.Status
	}
	if next.ApprovalFlowStep != nil {
		prev.ApprovalFlowStep = next.ApprovalFlowStep
	}
	if next.ApproverID != nil {
		prev.ApproverID = next.ApproverID
	}
	return prev
}

// ── FlowConfigStore ──────────────────────────────────────────────────────────

// ListSteps implements repository.FlowConfigStore.
func (s *Store) ListSteps(_ context.Context, companyID string) ([]*repository.ApprovalFlowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listStepsLocked(companyID), nil
}

// GetStep implements repository.FlowConfigStore.
func (s *Store) GetStep(_ context.Context, id, companyID string) (*repository.ApprovalFlowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	step, ok := s.steps[id]
	if !ok || step.CompanyID != companyID {
		return nil, apperrors.NotFound("approval_flow_step", id)
	}
	return copyStep(step), nil
}

// CreateStep implements repository.FlowConfigStore.
func (s *Store) CreateStep(_ context.Context, step *repository.ApprovalFlowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepOrderTakenLocked(step.CompanyID, step.StepOrder, "") {
		return apperrors.New(apperrors.ErrCodeConflict, "step order already used by this company")
	}
	step.ID = uuid.NewString()
	step.CreatedAt = s.now()
	step.UpdatedAt = step.CreatedAt
	s.steps[step.ID] = *copyStep(*step)
	return nil
}

// UpdateStep implements repository.FlowConfigStore.
func (s *Store) UpdateStep(_ context.Context, step *repository.ApprovalFlowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.steps[step.ID]
	if !ok || existing.CompanyID != step.CompanyID {
		return apperrors.NotFound("approval_flow_step", step.ID)
	}
	if s.stepOrderTakenLocked(step.CompanyID, step.StepOrder, step.ID) {
		return apperrors.New(apperrors.ErrCodeConflict, "step order already used by this company")
	}
	step.CreatedAt = existing.CreatedAt
	step.UpdatedAt = s.now()
	s.steps[step.ID] = *copyStep(*step)
	return nil
}

// DeleteStep implements repository.FlowConfigStore.
func (s *Store) DeleteStep(_ context.Context, id, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok || step.CompanyID != companyID {
		return apperrors.NotFound("approval_flow_step", id)
	}
	delete(s.steps, id)
	return nil
}

// ReplaceSteps implements repository.FlowConfigStore.
func (s *Store) ReplaceSteps(_ context.Context, companyID string, steps []*repository.ApprovalFlowStep) error {
	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if seen[step.StepOrder] {
			return apperrors.New(apperrors.ErrCodeConflict, "step order already used by this company")
		}
		seen[step.StepOrder] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, step := range s.steps {
		if step.CompanyID == companyID {
			delete(s.steps, id)
		}
	}
	now := s.now()
	for _, step := range steps {
		step.ID = uuid.NewString()
		step.CompanyID = companyID
		step.CreatedAt = now
		step.UpdatedAt = now
		s.steps[step.ID] = *copyStep(*step)
	}
	return nil
}

func (s *Store) stepOrderTakenLocked(companyID string, order int, exceptID string) bool {
	for id, step := range s.steps {
		if id != exceptID && step.CompanyID == companyID && step.StepOrder == order {
			return true
		}
	}
	return false
}

func (s *Store) listStepsLocked(companyID string) []*repository.ApprovalFlowStep {
	out := make([]*repository.ApprovalFlowStep, 0)
	for _, step := range s.steps {
		if step.CompanyID == companyID {
			out = append(out, copyStep(step))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

func copyStep(step repository.ApprovalFlowStep) *repository.ApprovalFlowStep {
	step.ApproverIDs = append([]string(nil), step.ApproverIDs...)
	if len(step.ApproverIDs) == 0 {
		step.ApproverIDs = nil
	}
	if step.AmountThreshold != nil {
		t := *step.AmountThreshold
		step.AmountThreshold = &t
	}
	return &step
}

func copyUser(u repository.User) *repository.User {
	return &u
}

var (
	_ repository.ApprovalStore   = (*Store)(nil)
	_ repository.FlowConfigStore = (*Store)(nil)
)
