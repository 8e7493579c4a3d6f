package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// NotificationService stores approval events in recipients' inboxes and
// publishes them to the message bus. Delivery failures are logged and never
// returned, so they cannot affect an approval outcome.
type NotificationService struct {
	inbox     *repository.NotificationInbox
	publisher client.EventPublisher
	log       *logger.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(inbox *repository.NotificationInbox, publisher client.EventPublisher, log *logger.Logger) *NotificationService {
	return &NotificationService{inbox: inbox, publisher: publisher, log: log}
}

var eventTitles = map[EventType]string{
	EventNeedsApproval:    "Expense awaiting your approval",
	EventExpenseApproved:  "Expense approved",
	EventExpenseRejected:  "Expense rejected",
	EventApprovalRecorded: "Approval recorded",
}

// Dispatch delivers every event of an approval result.
func (s *NotificationService) Dispatch(ctx context.Context, events []ApprovalEvent) {
	for _, ev := range events {
		if len(ev.Recipients) == 0 {
			continue
		}
		title := eventTitles[ev.Type]
		now := time.Now().UTC()

		for _, userID := range ev.Recipients {
			n := &repository.Notification{
				UserID:    userID,
				Type:      string(ev.Type),
				Title:     title,
				Message:   ev.Message,
				ExpenseID: ev.ExpenseID,
				CreatedAt: now,
			}
			if err := s.inbox.Add(ctx, n); err != nil {
				s.log.Warn().Err(err).
					Str("user_id", userID).
					Str("event_type", string(ev.Type)).
					Msg("notification: failed to store in inbox (non-fatal)")
			}
		}

		if s.publisher != nil {
			s.publisher.Publish(ctx, &client.NotificationEvent{
				ID:           uuid.NewString(),
				EventType:    string(ev.Type),
				CompanyID:    ev.CompanyID,
				ActorID:      ev.ActorID,
				Recipients:   ev.Recipients,
				ResourceType: "expense",
				ResourceID:   ev.ExpenseID,
				IsActionable: ev.Type == EventNeedsApproval,
				Title:        title,
				Message:      ev.Message,
				OccurredAt:   now,
				Payload: map[string]any{
					"step_order": ev.StepOrder,
					"status":     string(ev.Status),
				},
			})
		}
	}
}

// List returns the newest notifications of a user.
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]*repository.Notification, error) {
	return s.inbox.List(ctx, userID, limit)
}

// MarkRead flags one notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	return s.inbox.MarkRead(ctx, userID, id)
}

// MarkAllRead flags all of a user's notifications as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.inbox.MarkAllRead(ctx, userID)
}

// UnreadCount returns the number of unread notifications of a user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.inbox.UnreadCount(ctx, userID)
}
