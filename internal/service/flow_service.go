package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

const defaultMinApprovalPercentage = 100

// StepView is the caller-facing shape of an approval flow step.
type StepView struct {
	ID                    string           `json:"id"`
	StepOrder             int              `json:"stepOrder"`
	RequiredRole          repository.Role  `json:"requiredRole"`
	AmountThreshold       *decimal.Decimal `json:"amountThreshold,omitempty"`
	IsSequential          bool             `json:"isSequential"`
	MinApprovalPercentage int              `json:"minApprovalPercentage"`
	ApproverIDs           []string         `json:"approverIds,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

func newStepView(s *repository.ApprovalFlowStep) StepView {
	return StepView{
		ID:                    s.ID,
		StepOrder:             s.StepOrder,
		RequiredRole:          s.RequiredRole,
		AmountThreshold:       s.AmountThreshold,
		IsSequential:          s.IsSequential,
		MinApprovalPercentage: s.MinApprovalPercentage,
		ApproverIDs:           s.ApproverIDs,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

// StepInput carries create and update fields. Nil fields keep their current
// value on update and take defaults on create.
type StepInput struct {
	StepOrder             *int             `json:"stepOrder"`
	RequiredRole          *repository.Role `json:"requiredRole"`
	AmountThreshold       *decimal.Decimal `json:"amountThreshold"`
	ClearAmountThreshold  bool             `json:"clearAmountThreshold"`
	IsSequential          *bool            `json:"isSequential"`
	MinApprovalPercentage *int             `json:"minApprovalPercentage"`
	ApproverIDs           *[]string        `json:"approverIds"`
}

// FlowService manages company approval flow configuration.
type FlowService struct {
	flows     repository.FlowConfigStore
	directory repository.ApprovalStore
	log       *logger.Logger
}

// NewFlowService creates a new FlowService.
func NewFlowService(flows repository.FlowConfigStore, directory repository.ApprovalStore, log *logger.Logger) *FlowService {
	return &FlowService{flows: flows, directory: directory, log: log}
}

// ListSteps returns a company's flow in step order.
func (s *FlowService) ListSteps(ctx context.Context, companyID string) ([]StepView, error) {
	steps, err := s.flows.ListSteps(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]StepView, 0, len(steps))
	for _, step := range steps {
		out = append(out, newStepView(step))
	}
	return out, nil
}

// CreateStep validates and adds a step to a company's flow.
func (s *FlowService) CreateStep(ctx context.Context, companyID string, in StepInput) (*StepView, error) {
	step := &repository.ApprovalFlowStep{
		CompanyID:             companyID,
		IsSequential:          true,
		MinApprovalPercentage: defaultMinApprovalPercentage,
	}
	if in.StepOrder == nil {
		return nil, apperrors.InvalidInput("stepOrder", "is required")
	}
	if in.RequiredRole == nil {
		return nil, apperrors.InvalidInput("requiredRole", "is required")
	}
	applyStepInput(step, in)

	if err := s.validate(ctx, step); err != nil {
		return nil, err
	}
	if err := s.flows.CreateStep(ctx, step); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("company_id", companyID).
		Str("step_id", step.ID).
		Int("step_order", step.StepOrder).
		Msg("Approval flow step created")

	v := newStepView(step)
	return &v, nil
}

// UpdateStep applies a partial update to a step.
func (s *FlowService) UpdateStep(ctx context.Context, companyID, id string, in StepInput) (*StepView, error) {
	step, err := s.flows.GetStep(ctx, id, companyID)
	if err != nil {
		return nil, err
	}
	applyStepInput(step, in)

	if err := s.validate(ctx, step); err != nil {
		return nil, err
	}
	if err := s.flows.UpdateStep(ctx, step); err != nil {
		return nil, err
	}

	s.log.Info().Str("company_id", companyID).Str("step_id", id).Msg("Approval flow step updated")

	v := newStepView(step)
	return &v, nil
}

// DeleteStep removes a step. Expenses whose cursor points at it will fail
// with INVALID_STEP until reconfigured.
func (s *FlowService) DeleteStep(ctx context.Context, companyID, id string) error {
	if err := s.flows.DeleteStep(ctx, id, companyID); err != nil {
		return err
	}
	s.log.Info().Str("company_id", companyID).Str("step_id", id).Msg("Approval flow step deleted")
	return nil
}

// ReplaceFlow validates every step and swaps the company's flow for them in
// one operation.
func (s *FlowService) ReplaceFlow(ctx context.Context, companyID string, inputs []StepInput) ([]StepView, error) {
	steps := make([]*repository.ApprovalFlowStep, 0, len(inputs))
	seen := make(map[int]bool, len(inputs))
	for i, in := range inputs {
		if in.StepOrder == nil || in.RequiredRole == nil {
			return nil, apperrors.InvalidInput(fmt.Sprintf("steps[%d]", i), "stepOrder and requiredRole are required")
		}
		step := &repository.ApprovalFlowStep{
			CompanyID:             companyID,
			IsSequential:          true,
			MinApprovalPercentage: defaultMinApprovalPercentage,
		}
		applyStepInput(step, in)
		if seen[step.StepOrder] {
			return nil, apperrors.InvalidInput(fmt.Sprintf("steps[%d].stepOrder", i), "duplicate step order")
		}
		seen[step.StepOrder] = true
		if err := s.validate(ctx, step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	if err := s.flows.ReplaceSteps(ctx, companyID, steps); err != nil {
		return nil, err
	}

	s.log.Info().Str("company_id", companyID).Int("steps", len(steps)).Msg("Approval flow replaced")
	return s.ListSteps(ctx, companyID)
}

func applyStepInput(step *repository.ApprovalFlowStep, in StepInput) {
	if in.StepOrder != nil {
		step.StepOrder = *in.StepOrder
	}
	if in.RequiredRole != nil {
		step.RequiredRole = *in.RequiredRole
	}
	if in.ClearAmountThreshold {
		step.AmountThreshold = nil
	} else if in.AmountThreshold != nil {
		t := *in.AmountThreshold
		step.AmountThreshold = &t
	}
	if in.IsSequential != nil {
		step.IsSequential = *in.IsSequential
	}
	if in.MinApprovalPercentage != nil {
		step.MinApprovalPercentage = *in.MinApprovalPercentage
	}
	if in.ApproverIDs != nil {
		step.ApproverIDs = distinct(*in.ApproverIDs)
		if len(step.ApproverIDs) == 0 {
			step.ApproverIDs = nil
		}
	}
}

func (s *FlowService) validate(ctx context.Context, step *repository.ApprovalFlowStep) error {
	if step.StepOrder < 1 {
		return apperrors.InvalidInput("stepOrder", "must be a positive integer")
	}
	if !step.RequiredRole.Valid() {
		return apperrors.InvalidInput("requiredRole", "must be admin, manager or employee")
	}
	if step.MinApprovalPercentage < 1 || step.MinApprovalPercentage > 100 {
		return apperrors.InvalidInput("minApprovalPercentage", "must be between 1 and 100")
	}
	if step.AmountThreshold != nil && step.AmountThreshold.IsNegative() {
		return apperrors.InvalidInput("amountThreshold", "must not be negative")
	}
	if len(step.ApproverIDs) == 0 {
		return nil
	}

	return s.directory.View(ctx, func(ctx context.Context, tx repository.ApprovalTx) error {
		users, err := tx.ListUsersByIDs(ctx, step.ApproverIDs)
		if err != nil {
			return err
		}
		found := make(map[string]bool, len(users))
		for _, u := range users {
			if u.CompanyID == step.CompanyID {
				found[u.ID] = true
			}
		}
		for _, id := range step.ApproverIDs {
			if !found[id] {
				return apperrors.InvalidInput("approverIds", "unknown user "+id)
			}
		}
		return nil
	})
}
