package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for the expense approval workflow ───────────────────────────

// Role is a user's role within a company.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// ExpenseStatus is the workflow status of an expense.
type ExpenseStatus string

const (
	StatusPending  ExpenseStatus = "pending"
	StatusApproved ExpenseStatus = "approved"
	StatusRejected ExpenseStatus = "rejected"
)

// Terminal reports whether no further approval actions are accepted.
func (s ExpenseStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Action is an approver's decision.
type Action string

const (
	ActionApproved Action = "approved"
	ActionRejected Action = "rejected"
)

// Valid reports whether a is approved or rejected.
func (a Action) Valid() bool {
	return a == ActionApproved || a == ActionRejected
}

// Company is the tenant boundary.
type Company struct {
	ID        string
	Name      string
	Currency  string
	CreatedAt time.Time
}

// User is a member of exactly one company.
type User struct {
	ID        string
	CompanyID string
	Name      string
	Email     string
	Role      Role
	ManagerID *string
	CreatedAt time.Time
}

// UserRef is the public projection of a user handed to callers for
// notification purposes.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Ref projects u to a UserRef.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// ApprovalFlowStep is one ordered rule in a company's approval chain.
type ApprovalFlowStep struct {
	ID                    string
	CompanyID             string
	StepOrder             int
	RequiredRole          Role
	AmountThreshold       *decimal.Decimal // nil = step always applies
	IsSequential          bool
	MinApprovalPercentage int      // 1..100, parallel steps only
	ApproverIDs           []string // empty = any company user with RequiredRole
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Expense is the subject of the workflow.
type Expense struct {
	ID               string
	UserID           string
	CompanyID        string
	Amount           decimal.Decimal
	Currency         string
	Category         string
	Description      string
	Status           ExpenseStatus
	ApproverID       *string
	ApprovalFlowStep int // 0 = not yet entered the flow
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExpenseStateUpdate is the single write the engine applies to an expense per
// decision. Nil fields are left unchanged.
type ExpenseStateUpdate struct {
	Status           *ExpenseStatus
	ApprovalFlowStep *int
	ApproverID       *string
}

// Empty reports whether the update changes nothing.
func (u ExpenseStateUpdate) Empty() bool {
	return u.Status == nil && u.ApprovalFlowStep == nil && u.ApproverID == nil
}

// ApprovalHistoryEntry is one immutable approval ledger record.
type ApprovalHistoryEntry struct {
	ID         string
	ExpenseID  string
	ApproverID string
	Action     Action
	StepOrder  int
	Comments   *string
	CreatedAt  time.Time

	// Approver is populated by listing queries only.
	Approver *UserRef
}
