package client

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// StaticRateConverter converts using a fixed table of rates expressed as units
// of each currency per one unit of the base currency.
type StaticRateConverter struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewStaticRateConverter parses a rate table. Keys are case-insensitive. The
// base currency is always present with rate 1.
func NewStaticRateConverter(base string, rates map[string]string) (*StaticRateConverter, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if base == "" {
		return nil, apperrors.InvalidInput("currency.base", "must not be empty")
	}

	parsed := make(map[string]decimal.Decimal, len(rates)+1)
	for code, raw := range rates {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, apperrors.InvalidInput("currency.rates", fmt.Sprintf("%s: %v", code, err))
		}
		if !rate.IsPositive() {
			return nil, apperrors.InvalidInput("currency.rates", fmt.Sprintf("%s must be positive", code))
		}
		parsed[strings.ToUpper(code)] = rate
	}
	parsed[base] = decimal.NewFromInt(1)

	return &StaticRateConverter{base: base, rates: parsed}, nil
}

// Base returns the base currency code.
func (c *StaticRateConverter) Base() string {
	return c.base
}

// Convert implements CurrencyConverter.
func (c *StaticRateConverter) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	fromRate, ok := c.rates[from]
	if !ok {
		return decimal.Zero, apperrors.InvalidInput("currency", "unsupported currency "+from)
	}
	toRate, ok := c.rates[to]
	if !ok {
		return decimal.Zero, apperrors.InvalidInput("currency", "unsupported currency "+to)
	}

	return amount.Div(fromRate).Mul(toRate), nil
}
