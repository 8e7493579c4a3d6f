package memory

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// Seed is the YAML fixture format for the memory store.
type Seed struct {
	Companies []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Currency string `yaml:"currency"`
	} `yaml:"companies"`
	Users []struct {
		ID        string `yaml:"id"`
		CompanyID string `yaml:"company_id"`
		Name      string `yaml:"name"`
		Email     string `yaml:"email"`
		Role      string `yaml:"role"`
		ManagerID string `yaml:"manager_id"`
	} `yaml:"users"`
	Expenses []struct {
		ID          string `yaml:"id"`
		UserID      string `yaml:"user_id"`
		CompanyID   string `yaml:"company_id"`
		Amount      string `yaml:"amount"`
		Currency    string `yaml:"currency"`
		Category    string `yaml:"category"`
		Description string `yaml:"description"`
	} `yaml:"expenses"`
	Steps []struct {
		CompanyID             string   `yaml:"company_id"`
		StepOrder             int      `yaml:"step_order"`
		RequiredRole          string   `yaml:"required_role"`
		AmountThreshold       string   `yaml:"amount_threshold"`
		IsSequential          *bool    `yaml:"is_sequential"`
		MinApprovalPercentage int      `yaml:"min_approval_percentage"`
		ApproverIDs           []string `yaml:"approver_ids"`
	} `yaml:"steps"`
}

// LoadSeedFile reads a YAML fixture from path into s.
func (s *Store) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}

// LoadSeed reads a YAML fixture into s. Steps default to sequential with a
// 100% threshold.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, c := range seed.Companies {
		s.AddCompany(repository.Company{ID: c.ID, Name: c.Name, Currency: strings.ToUpper(c.Currency)})
	}
	for _, u := range seed.Users {
		role := repository.Role(strings.ToLower(u.Role))
		if !role.Valid() {
			return fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
		user := repository.User{ID: u.ID, CompanyID: u.CompanyID, Name: u.Name, Email: u.Email, Role: role}
		if u.ManagerID != "" {
			user.ManagerID = &u.ManagerID
		}
		s.AddUser(user)
	}
	for _, e := range seed.Expenses {
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return fmt.Errorf("expense %s: invalid amount %q", e.ID, e.Amount)
		}
		s.AddExpense(repository.Expense{
			ID:          e.ID,
			UserID:      e.UserID,
			CompanyID:   e.CompanyID,
			Amount:      amount,
			Currency:    strings.ToUpper(e.Currency),
			Category:    e.Category,
			Description: e.Description,
		})
	}
	for _, st := range seed.Steps {
		step := repository.ApprovalFlowStep{
			CompanyID:             st.CompanyID,
			StepOrder:             st.StepOrder,
			RequiredRole:          repository.Role(strings.ToLower(st.RequiredRole)),
			IsSequential:          true,
			MinApprovalPercentage: 100,
			ApproverIDs:           st.ApproverIDs,
		}
		if st.IsSequential != nil {
			step.IsSequential = *st.IsSequential
		}
		if st.MinApprovalPercentage != 0 {
			step.MinApprovalPercentage = st.MinApprovalPercentage
		}
		if st.AmountThreshold != "" {
			t, err := decimal.NewFromString(st.AmountThreshold)
			if err != nil {
				return fmt.Errorf("step %d of %s: invalid amount_threshold %q", st.StepOrder, st.CompanyID, st.AmountThreshold)
			}
			step.AmountThreshold = &t
		}
		s.AddStep(step)
	}
	return nil
}
