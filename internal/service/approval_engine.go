package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// ApprovalResult describes the outcome of one approval action.
type ApprovalResult struct {
	Success    bool                     `json:"success"`
	Message    string                   `json:"message"`
	Status     repository.ExpenseStatus `json:"status"`
	NextStep   *int                     `json:"nextStep,omitempty"`
	IsComplete bool                     `json:"isComplete"`
	Approvers  []repository.UserRef     `json:"approvers,omitempty"`
	Tally      *Tally                   `json:"tally,omitempty"`

	// Events are the notification-worthy facts of this decision.
	Events []ApprovalEvent `json:"-"`
}

// ApprovalEngine decides approval transitions for expenses.
type ApprovalEngine struct {
	store     repository.ApprovalStore
	converter client.CurrencyConverter
	log       *logger.Logger
}

// NewApprovalEngine creates a new ApprovalEngine.
func NewApprovalEngine(
	store repository.ApprovalStore,
	converter client.CurrencyConverter,
	log *logger.Logger,
) *ApprovalEngine {
	return &ApprovalEngine{
		store:     store,
		converter: converter,
		log:       log,
	}
}

// ── Process approval ──────────────────────────────────────────────────────────

// ProcessApproval applies one approve/reject action by approverID to an
// expense. The whole read-decide-write sequence runs inside the expense's
// lock scope, and nothing is written unless every step succeeds.
func (e *ApprovalEngine) ProcessApproval(
	ctx context.Context,
	expenseID, approverID string,
	action repository.Action,
	comments *string,
) (*ApprovalResult, error) {
	if expenseID == "" {
		return nil, apperrors.InvalidInput("expenseId", "is required")
	}
	if approverID == "" {
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "approver identity is required")
	}
	if !action.Valid() {
		return nil, apperrors.InvalidInput("action", "must be approved or rejected")
	}

	e.log.Debug().
		Str("expense_id", expenseID).
		Str("approver_id", approverID).
		Str("action", string(action)).
		Msg("Processing approval")

	var result *ApprovalResult
	err := e.store.WithExpenseLock(ctx, expenseID, func(ctx context.Context, tx repository.ApprovalTx) error {
		r, err := e.process(ctx, tx, expenseID, approverID, action, comments)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		e.logFailure(err, expenseID, approverID)
		return nil, err
	}

	ev := e.log.Debug()
	if result.IsComplete {
		ev = e.log.Info()
	}
	ev.Str("expense_id", expenseID).
		Str("approver_id", approverID).
		Str("status", string(result.Status)).
		Bool("complete", result.IsComplete).
		Msg(result.Message)

	return result, nil
}

func (e *ApprovalEngine) process(
	ctx context.Context,
	tx repository.ApprovalTx,
	expenseID, approverID string,
	action repository.Action,
	comments *string,
) (*ApprovalResult, error) {
	expense, err := tx.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense.Status != repository.StatusPending {
		return nil, apperrors.AlreadyDecided(string(expense.Status))
	}

	actor, err := tx.GetUser(ctx, approverID)
	if apperrors.Is(err, apperrors.ErrCodeNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "approver not found")
	}
	if err != nil {
		return nil, err
	}
	if actor.CompanyID != expense.CompanyID {
		return nil, apperrors.New(apperrors.ErrCodeForbiddenStep, "approver does not belong to the expense's company")
	}

	steps, err := loadActiveSteps(ctx, tx, e.converter, expense)
	if err != nil {
		return nil, err
	}

	// A cursor set while some step applied must still find its step, even
	// when nothing applies to the expense any more.
	if len(steps) == 0 && expense.ApprovalFlowStep != 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStep,
			fmt.Sprintf("invalid approval step: %d", expense.ApprovalFlowStep))
	}

	in := decisionInput{action: action, steps: steps}
	var eligible []*repository.User
	var voters []string

	if len(steps) > 0 {
		cursor := expense.ApprovalFlowStep
		if cursor == 0 {
			cursor = steps[0].StepOrder
		}
		in.current = findStep(steps, cursor)
		if in.current == nil {
			return nil, apperrors.New(apperrors.ErrCodeInvalidStep, fmt.Sprintf("invalid approval step: %d", cursor))
		}
		if !canAct(actor.Role, in.current) {
			return nil, apperrors.New(apperrors.ErrCodeForbiddenStep,
				fmt.Sprintf("this step requires %s role", in.current.RequiredRole))
		}

		if !in.current.IsSequential {
			voters, err = tx.VotersAtStep(ctx, expense.ID, in.current.StepOrder)
			if err != nil {
				return nil, err
			}
			if slices.Contains(voters, actor.ID) {
				return nil, apperrors.New(apperrors.ErrCodeConflict, "approver already voted at this step")
			}
			if in.approved, err = tx.CountByStepAndAction(ctx, expense.ID, in.current.StepOrder, repository.ActionApproved); err != nil {
				return nil, err
			}
			if in.rejected, err = tx.CountByStepAndAction(ctx, expense.ID, in.current.StepOrder, repository.ActionRejected); err != nil {
				return nil, err
			}
			if eligible, err = ResolveApprovers(ctx, tx, in.current); err != nil {
				return nil, err
			}
			in.eligible = len(eligible)
		}
	}

	d := decide(in)
	e.log.Debug().
		Str("expense_id", expense.ID).
		Stringer("outcome", d.outcome).
		Int("step", d.stepOrder).
		Msg("Approval decided")

	result := &ApprovalResult{Success: true, Message: d.message, Tally: d.tally}
	switch d.outcome {
	case outcomeAdvanced:
		next, err := ResolveApprovers(ctx, tx, d.next)
		if err != nil {
			return nil, err
		}
		result.Approvers = refs(next)
		n := d.next.StepOrder
		result.NextStep = &n
	case outcomeAwaiting:
		result.Approvers = refs(remaining(eligible, append(voters, actor.ID)))
	}

	entry := &repository.ApprovalHistoryEntry{
		ExpenseID:  expense.ID,
		ApproverID: actor.ID,
		Action:     action,
		StepOrder:  d.stepOrder,
		Comments:   comments,
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}

	upd := stateUpdate(d, actor.ID)
	if err := tx.UpdateExpenseState(ctx, expense.ID, upd); err != nil {
		return nil, err
	}

	result.Status = *upd.Status
	result.IsComplete = result.Status.Terminal()
	result.Events = buildEvents(expense, actor.ID, d, result)
	return result, nil
}

// stateUpdate is the one expense write for a decision. The cursor is always
// written for flow decisions so the entry transition persists with it.
func stateUpdate(d decision, actorID string) repository.ExpenseStateUpdate {
	status := repository.StatusPending
	switch d.outcome {
	case outcomeApproved:
		status = repository.StatusApproved
	case outcomeRejected:
		status = repository.StatusRejected
	}

	upd := repository.ExpenseStateUpdate{Status: &status, ApproverID: &actorID}
	if d.stepOrder > 0 {
		cursor := d.stepOrder
		if d.next != nil {
			cursor = d.next.StepOrder
		}
		upd.ApprovalFlowStep = &cursor
	}
	return upd
}

func buildEvents(expense *repository.Expense, actorID string, d decision, r *ApprovalResult) []ApprovalEvent {
	base := ApprovalEvent{
		ExpenseID: expense.ID,
		CompanyID: expense.CompanyID,
		ActorID:   actorID,
		StepOrder: d.stepOrder,
		Status:    r.Status,
		Message:   r.Message,
	}
	owner := []string{expense.UserID}

	var events []ApprovalEvent
	switch d.outcome {
	case outcomeApproved:
		ev := base
		ev.Type, ev.Recipients = EventExpenseApproved, owner
		events = append(events, ev)
	case outcomeRejected:
		ev := base
		ev.Type, ev.Recipients = EventExpenseRejected, owner
		events = append(events, ev)
	case outcomeAdvanced:
		progress := base
		progress.Type, progress.Recipients = EventApprovalRecorded, owner
		needs := base
		needs.Type, needs.Recipients, needs.StepOrder = EventNeedsApproval, userIDs(r.Approvers), d.next.StepOrder
		events = append(events, progress, needs)
	case outcomeAwaiting:
		ev := base
		ev.Type, ev.Recipients = EventApprovalRecorded, owner
		events = append(events, ev)
	}
	return events
}

// remaining returns the eligible users that are not in voted, keeping order.
func remaining(eligible []*repository.User, voted []string) []*repository.User {
	out := make([]*repository.User, 0, len(eligible))
	for _, u := range eligible {
		if !slices.Contains(voted, u.ID) {
			out = append(out, u)
		}
	}
	return out
}

func (e *ApprovalEngine) logFailure(err error, expenseID, approverID string) {
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.ErrCodeInvalidStep:
		e.log.Error().Err(err).Str("expense_id", expenseID).Msg("Approval flow configuration drift")
	case apperrors.ErrCodePersistence, apperrors.ErrCodeInternal:
		e.log.Error().Err(err).Str("expense_id", expenseID).Str("approver_id", approverID).Msg("Approval failed")
	default:
		e.log.Warn().Str("code", string(code)).Str("expense_id", expenseID).Str("approver_id", approverID).
			Msg(apperrors.MessageOf(err))
	}
}

// ── Queries ───────────────────────────────────────────────────────────────────

// Actor resolves an authenticated user id against the user directory.
func (e *ApprovalEngine) Actor(ctx context.Context, userID string) (*repository.User, error) {
	var actor *repository.User
	err := e.store.View(ctx, func(ctx context.Context, tx repository.ApprovalTx) error {
		var err error
		actor, err = tx.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return actor, nil
}

// HistoryEntry is one approval ledger record as shown to callers.
type HistoryEntry struct {
	ID         string              `json:"id"`
	ExpenseID  string              `json:"expenseId"`
	ApproverID string              `json:"approverId"`
	Approver   *repository.UserRef `json:"approver,omitempty"`
	Action     repository.Action   `json:"action"`
	StepOrder  int                 `json:"stepOrder"`
	Comments   *string             `json:"comments,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// GetApprovalHistory returns the audit trail of an expense, newest first.
// The viewer must belong to the expense's company.
func (e *ApprovalEngine) GetApprovalHistory(ctx context.Context, expenseID, viewerID string) ([]*HistoryEntry, error) {
	var out []*HistoryEntry
	err := e.store.View(ctx, func(ctx context.Context, tx repository.ApprovalTx) error {
		expense, err := e.visibleExpense(ctx, tx, expenseID, viewerID)
		if err != nil {
			return err
		}
		entries, err := tx.ListHistory(ctx, expense.ID)
		if err != nil {
			return err
		}
		out = make([]*HistoryEntry, 0, len(entries))
		for _, h := range entries {
			out = append(out, &HistoryEntry{
				ID:         h.ID,
				ExpenseID:  h.ExpenseID,
				ApproverID: h.ApproverID,
				Approver:   h.Approver,
				Action:     h.Action,
				StepOrder:  h.StepOrder,
				Comments:   h.Comments,
				CreatedAt:  h.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FlowStepState is one active step of an expense's flow with its approvers.
type FlowStepState struct {
	StepView
	Current   bool                 `json:"current"`
	Approvers []repository.UserRef `json:"approvers"`
}

// ExpenseFlow is the approval flow that applies to an expense.
type ExpenseFlow struct {
	ExpenseID   string                   `json:"expenseId"`
	Status      repository.ExpenseStatus `json:"status"`
	CurrentStep int                      `json:"currentStep"`
	Steps       []FlowStepState          `json:"steps"`
}

// GetApprovalFlow returns the active steps for an expense plus its cursor.
func (e *ApprovalEngine) GetApprovalFlow(ctx context.Context, expenseID, viewerID string) (*ExpenseFlow, error) {
	var out *ExpenseFlow
	err := e.store.View(ctx, func(ctx context.Context, tx repository.ApprovalTx) error {
		expense, err := e.visibleExpense(ctx, tx, expenseID, viewerID)
		if err != nil {
			return err
		}
		steps, err := loadActiveSteps(ctx, tx, e.converter, expense)
		if err != nil {
			return err
		}

		out = &ExpenseFlow{
			ExpenseID:   expense.ID,
			Status:      expense.Status,
			CurrentStep: expense.ApprovalFlowStep,
			Steps:       make([]FlowStepState, 0, len(steps)),
		}
		for _, s := range steps {
			approvers, err := ResolveApprovers(ctx, tx, s)
			if err != nil {
				return err
			}
			out.Steps = append(out.Steps, FlowStepState{
				StepView:  newStepView(s),
				Current:   s.StepOrder == expense.ApprovalFlowStep,
				Approvers: refs(approvers),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingApproval is an expense awaiting action the viewer may take.
type PendingApproval struct {
	ExpenseID    string          `json:"expenseId"`
	SubmittedBy  string          `json:"submittedBy"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	StepOrder    int             `json:"stepOrder"`
	RequiredRole repository.Role `json:"requiredRole,omitempty"`
	SubmittedAt  time.Time       `json:"submittedAt"`
}

// GetPendingApprovals lists the pending expenses of the viewer's company whose
// current step the viewer may act on, oldest first. Expenses at a parallel
// step the viewer already voted on are left out.
func (e *ApprovalEngine) GetPendingApprovals(ctx context.Context, viewerID string) ([]*PendingApproval, error) {
	var out []*PendingApproval
	err := e.store.View(ctx, func(ctx context.Context, tx repository.ApprovalTx) error {
		viewer, err := tx.GetUser(ctx, viewerID)
		if err != nil {
			return err
		}
		expenses, err := tx.ListPendingExpenses(ctx, viewer.CompanyID)
		if err != nil {
			return err
		}

		out = make([]*PendingApproval, 0)
		for _, exp := range expenses {
			steps, err := loadActiveSteps(ctx, tx, e.converter, exp)
			if err != nil {
				e.log.Warn().Err(err).Str("expense_id", exp.ID).Msg("Skipping expense with unusable flow")
				continue
			}

			p := &PendingApproval{
				ExpenseID:   exp.ID,
				SubmittedBy: exp.UserID,
				Amount:      exp.Amount,
				Currency:    exp.Currency,
				Category:    exp.Category,
				Description: exp.Description,
				StepOrder:   exp.ApprovalFlowStep,
				SubmittedAt: exp.CreatedAt,
			}

			if len(steps) == 0 {
				if viewer.Role == repository.RoleEmployee || exp.ApprovalFlowStep != 0 {
					continue
				}
				out = append(out, p)
				continue
			}

			cursor := exp.ApprovalFlowStep
			if cursor == 0 {
				cursor = steps[0].StepOrder
			}
			current := findStep(steps, cursor)
			if current == nil || !canAct(viewer.Role, current) {
				continue
			}
			if !current.IsSequential {
				voters, err := tx.VotersAtStep(ctx, exp.ID, current.StepOrder)
				if err != nil {
					return err
				}
				if slices.Contains(voters, viewer.ID) {
					continue
				}
			}
			p.StepOrder = current.StepOrder
			p.RequiredRole = current.RequiredRole
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// visibleExpense loads an expense and checks the viewer shares its company.
// Expenses of other companies are reported as not found.
func (e *ApprovalEngine) visibleExpense(ctx context.Context, tx repository.ApprovalTx, expenseID, viewerID string) (*repository.Expense, error) {
	expense, err := tx.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	viewer, err := tx.GetUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if viewer.CompanyID != expense.CompanyID {
		return nil, apperrors.NotFound("expense", expenseID)
	}
	return expense, nil
}
