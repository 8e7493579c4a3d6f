package service

import (
	"fmt"
	"math"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// Tally reports parallel voting progress at one step.
type Tally struct {
	Approved   int     `json:"approved"`
	Rejected   int     `json:"rejected"`
	Eligible   int     `json:"eligible"`
	Percentage float64 `json:"percentage"`
	Required   int     `json:"required"`
}

// newTally computes the approval percentage against the full eligible set.
// An empty eligible set is 0% and never meets a threshold.
func newTally(approved, rejected, eligible, required int) Tally {
	t := Tally{Approved: approved, Rejected: rejected, Eligible: eligible, Required: required}
	if eligible > 0 {
		t.Percentage = 100 * float64(approved) / float64(eligible)
	}
	return t
}

// Met reports whether the percentage reaches the required threshold. The
// percentage is compared at whole-percent precision, so 2 of 3 meets 67.
// Rounding never reaches 100: a 100% step needs every eligible vote.
func (t Tally) Met() bool {
	if t.Eligible == 0 {
		return false
	}
	if t.Required >= 100 && t.Approved < t.Eligible {
		return false
	}
	return math.Round(t.Percentage) >= float64(t.Required)
}

type outcome int

const (
	outcomeApproved outcome = iota + 1
	outcomeRejected
	outcomeAdvanced
	outcomeAwaiting
)

func (o outcome) String() string {
	switch o {
	case outcomeApproved:
		return "approved"
	case outcomeRejected:
		return "rejected"
	case outcomeAdvanced:
		return "advanced"
	case outcomeAwaiting:
		return "awaiting"
	}
	return "unknown"
}

// decisionInput is an immutable snapshot of everything the decision needs.
// For parallel steps the counts exclude the action being decided.
type decisionInput struct {
	action   repository.Action
	steps    []*repository.ApprovalFlowStep // active steps, ascending
	current  *repository.ApprovalFlowStep   // nil when steps is empty
	approved int
	rejected int
	eligible int
}

// decision is the pure result of evaluating one action. The engine turns it
// into a single ledger append and a single expense update.
type decision struct {
	outcome   outcome
	stepOrder int // ledger step the action is recorded at
	next      *repository.ApprovalFlowStep
	tally     *Tally
	message   string
}

// decide evaluates an approval action without side effects.
func decide(in decisionInput) decision {
	if in.current == nil {
		if in.action == repository.ActionRejected {
			return decision{outcome: outcomeRejected, message: "Expense rejected"}
		}
		return decision{outcome: outcomeApproved, message: "Expense approved"}
	}

	d := decision{stepOrder: in.current.StepOrder}
	if in.action == repository.ActionRejected {
		d.outcome = outcomeRejected
		d.message = "Expense rejected"
		return d
	}

	next := successor(in.steps, in.current.StepOrder)

	if in.current.IsSequential {
		if next == nil {
			d.outcome = outcomeApproved
			d.message = "Expense approved - all steps completed"
			return d
		}
		d.outcome = outcomeAdvanced
		d.next = next
		d.message = fmt.Sprintf("Approval recorded. Moving to step %d (%s approval required)", next.StepOrder, next.RequiredRole)
		return d
	}

	// Parallel: the action itself is one more distinct approved vote.
	tally := newTally(in.approved+1, in.rejected, in.eligible, in.current.MinApprovalPercentage)
	d.tally = &tally

	if in.rejected > 0 {
		d.outcome = outcomeRejected
		d.message = "Expense rejected by parallel approver"
		return d
	}

	if !tally.Met() {
		d.outcome = outcomeAwaiting
		d.message = fmt.Sprintf("Approval recorded. %d/%d approved (%.1f%% of %d%% required)",
			tally.Approved, tally.Eligible, tally.Percentage, tally.Required)
		return d
	}

	if next == nil {
		d.outcome = outcomeApproved
		d.message = "Expense approved - all parallel approvals completed"
		return d
	}
	d.outcome = outcomeAdvanced
	d.next = next
	d.message = fmt.Sprintf("Parallel approval threshold met (%.1f%%). Moving to step %d", tally.Percentage, next.StepOrder)
	return d
}

// successor returns the positional successor of stepOrder in steps.
func successor(steps []*repository.ApprovalFlowStep, stepOrder int) *repository.ApprovalFlowStep {
	for i, s := range steps {
		if s.StepOrder == stepOrder {
			if i+1 < len(steps) {
				return steps[i+1]
			}
			return nil
		}
	}
	return nil
}

func findStep(steps []*repository.ApprovalFlowStep, stepOrder int) *repository.ApprovalFlowStep {
	for _, s := range steps {
		if s.StepOrder == stepOrder {
			return s
		}
	}
	return nil
}

// canAct reports whether role satisfies step's role requirement. Admins
// satisfy every step.
func canAct(role repository.Role, step *repository.ApprovalFlowStep) bool {
	return role == repository.RoleAdmin || role == step.RequiredRole
}
