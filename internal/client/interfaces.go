package client

import (
	"context"

	"github.com/shopspring/decimal"
)

// CurrencyConverter converts money between currencies. Implementations are
// pure: the same inputs always produce the same output.
type CurrencyConverter interface {
	Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// EventPublisher delivers notification events to the message bus. Publishing
// is best-effort and never returns an error to the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event *NotificationEvent)
}
