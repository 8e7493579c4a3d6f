package service

import "github.com/pesio-ai/be-expense-approvals/internal/repository"

// EventType names a notification-worthy fact emitted by the engine.
type EventType string

const (
	EventNeedsApproval    EventType = "expense_needs_approval"
	EventExpenseApproved  EventType = "expense_approved"
	EventExpenseRejected  EventType = "expense_rejected"
	EventApprovalRecorded EventType = "approval_recorded"
)

// ApprovalEvent is a structured fact about one approval decision. The engine
// only returns these; delivery is the caller's concern.
type ApprovalEvent struct {
	Type       EventType
	ExpenseID  string
	CompanyID  string
	ActorID    string
	Recipients []string
	StepOrder  int
	Status     repository.ExpenseStatus
	Message    string
}

func userIDs(users []repository.UserRef) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
