package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// FlowFile is the YAML document accepted by the flow import command:
//
//	company: 6f1c...
//	steps:
//	  - step_order: 1
//	    required_role: manager
//	  - step_order: 2
//	    required_role: admin
//	    amount_threshold: "1000.00"
//	    is_sequential: false
//	    min_approval_percentage: 60
type FlowFile struct {
	Company string         `yaml:"company"`
	Steps   []FlowFileStep `yaml:"steps"`
}

// FlowFileStep is one step entry of a FlowFile.
type FlowFileStep struct {
	StepOrder             int      `yaml:"step_order"`
	RequiredRole          string   `yaml:"required_role"`
	AmountThreshold       string   `yaml:"amount_threshold"`
	IsSequential          *bool    `yaml:"is_sequential"`
	MinApprovalPercentage *int     `yaml:"min_approval_percentage"`
	ApproverIDs           []string `yaml:"approver_ids"`
}

// ParseFlowFile decodes a flow document, rejecting unknown keys.
func ParseFlowFile(r io.Reader) (*FlowFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	f := &FlowFile{}
	if err := dec.Decode(f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.InvalidInput("flow file", "document is empty")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid flow file")
	}
	return f, nil
}

// Inputs converts the file's steps to StepInputs.
func (f *FlowFile) Inputs() ([]StepInput, error) {
	inputs := make([]StepInput, 0, len(f.Steps))
	for i, st := range f.Steps {
		order := st.StepOrder
		role := repository.Role(strings.ToLower(strings.TrimSpace(st.RequiredRole)))
		in := StepInput{
			StepOrder:             &order,
			RequiredRole:          &role,
			IsSequential:          st.IsSequential,
			MinApprovalPercentage: st.MinApprovalPercentage,
		}
		if st.AmountThreshold != "" {
			t, err := decimal.NewFromString(st.AmountThreshold)
			if err != nil {
				return nil, apperrors.InvalidInput(fmt.Sprintf("steps[%d].amount_threshold", i), err.Error())
			}
			in.AmountThreshold = &t
		}
		if len(st.ApproverIDs) > 0 {
			ids := append([]string(nil), st.ApproverIDs...)
			in.ApproverIDs = &ids
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// ImportFlow replaces a company's flow with the steps of a YAML document.
// companyID overrides the document's company when set.
func (s *FlowService) ImportFlow(ctx context.Context, companyID string, r io.Reader) ([]StepView, error) {
	f, err := ParseFlowFile(r)
	if err != nil {
		return nil, err
	}
	if companyID == "" {
		companyID = f.Company
	}
	if companyID == "" {
		return nil, apperrors.InvalidInput("company", "is required")
	}

	inputs, err := f.Inputs()
	if err != nil {
		return nil, err
	}
	return s.ReplaceFlow(ctx, companyID, inputs)
}
