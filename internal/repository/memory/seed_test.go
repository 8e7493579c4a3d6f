package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

const seedYAML = `
companies:
  - {id: acme, name: Acme, currency: usd}
users:
  - {id: u-erin, company_id: acme, name: Erin, email: erin@acme.test, role: employee, manager_id: u-alice}
  - {id: u-alice, company_id: acme, name: Alice, email: alice@acme.test, role: Manager}
expenses:
  - {id: exp-1, user_id: u-erin, company_id: acme, amount: "12.50", currency: eur, category: meals}
steps:
  - {company_id: acme, step_order: 1, required_role: manager}
  - {company_id: acme, step_order: 2, required_role: admin, is_sequential: false, min_approval_percentage: 60, amount_threshold: "1000"}
`

func TestLoadSeed(t *testing.T) {
	s := New()
	require.NoError(t, s.LoadSeed(strings.NewReader(seedYAML)))

	e, ok := s.Expense("exp-1")
	require.True(t, ok)
	assert.Equal(t, repository.StatusPending, e.Status)
	assert.Equal(t, "EUR", e.Currency)
	assert.Equal(t, "12.5", e.Amount.String())

	ctx := context.Background()
	err := s.View(ctx, func(ctx context.Context, tx repository.ApprovalTx) error {
		u, err := tx.GetUser(ctx, "u-alice")
		require.NoError(t, err)
		assert.Equal(t, repository.RoleManager, u.Role)

		erin, err := tx.GetUser(ctx, "u-erin")
		require.NoError(t, err)
		require.NotNil(t, erin.ManagerID)
		assert.Equal(t, "u-alice", *erin.ManagerID)
		return nil
	})
	require.NoError(t, err)

	steps, err := s.ListSteps(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.True(t, steps[0].IsSequential)
	assert.Equal(t, 100, steps[0].MinApprovalPercentage)
	assert.Nil(t, steps[0].AmountThreshold)
	assert.False(t, steps[1].IsSequential)
	assert.Equal(t, 60, steps[1].MinApprovalPercentage)
	require.NotNil(t, steps[1].AmountThreshold)
	assert.Equal(t, "1000", steps[1].AmountThreshold.String())
}

func TestLoadSeed_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "companies:\n  - {id: a, tax: 1}\n"},
		{"bad role", "users:\n  - {id: u, company_id: a, role: owner}\n"},
		{"bad amount", "expenses:\n  - {id: e, amount: lots}\n"},
		{"bad threshold", "steps:\n  - {company_id: a, step_order: 1, required_role: admin, amount_threshold: x}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, New().LoadSeed(strings.NewReader(tt.yaml)))
		})
	}
}
