package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// FlowStepRepository handles CRUD for approval_flow_steps.
type FlowStepRepository struct {
	q database.Querier
}

// NewFlowStepRepository creates a FlowStepRepository.
func NewFlowStepRepository(q database.Querier) *FlowStepRepository {
	return &FlowStepRepository{q: q}
}

const flowStepColumns = `
	id, company_id, step_order, required_role, amount_threshold::text,
	is_sequential, min_approval_percentage, approver_ids, created_at, updated_at`

// Create inserts a new step.
func (r *FlowStepRepository) Create(ctx context.Context, step *ApprovalFlowStep) error {
	approverJSON, err := marshalApproverIDs(step.ApproverIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_flow_steps
		    (company_id, step_order, required_role, amount_threshold,
		     is_sequential, min_approval_percentage, approver_ids)
		VALUES ($1, $2, $3::user_role, $4::text::numeric,
		        $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		step.CompanyID,
		step.StepOrder,
		string(step.RequiredRole),
		thresholdParam(step.AmountThreshold),
		step.IsSequential,
		step.MinApprovalPercentage,
		approverJSON,
	).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
	return mapStepWriteError(err, "failed to create approval flow step")
}

// GetByID retrieves a step scoped to its company.
func (r *FlowStepRepository) GetByID(ctx context.Context, id, companyID string) (*ApprovalFlowStep, error) {
	query := `SELECT` + flowStepColumns + `
		FROM approval_flow_steps
		WHERE id = $1 AND company_id = $2
	`

	step, err := r.scanStep(r.q.QueryRow(ctx, query, id, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_flow_step", id)
	}
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to get approval flow step")
	}
	return step, nil
}

// ListByCompany returns a company's steps ordered by step_order.
func (r *FlowStepRepository) ListByCompany(ctx context.Context, companyID string) ([]*ApprovalFlowStep, error) {
	query := `SELECT` + flowStepColumns + `
		FROM approval_flow_steps
		WHERE company_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.q.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list approval flow steps")
	}
	defer rows.Close()

	steps := make([]*ApprovalFlowStep, 0)
	for rows.Next() {
		step, err := r.scanStep(rows)
		if err != nil {
			return nil, apperrors.Persistence(err, "failed to scan approval flow step")
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(err, "failed to list approval flow steps")
	}
	return steps, nil
}

// Update persists changes to an existing step.
func (r *FlowStepRepository) Update(ctx context.Context, step *ApprovalFlowStep) error {
	approverJSON, err := marshalApproverIDs(step.ApproverIDs)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_flow_steps
		SET step_order              = $3,
		    required_role           = $4::user_role,
		    amount_threshold        = $5::text::numeric,
		    is_sequential           = $6,
		    min_approval_percentage = $7,
		    approver_ids            = $8,
		    updated_at              = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING updated_at
	`

	err = r.q.QueryRow(ctx, query,
		step.ID,
		step.CompanyID,
		step.StepOrder,
		string(step.RequiredRole),
		thresholdParam(step.AmountThreshold),
		step.IsSequential,
		step.MinApprovalPercentage,
		approverJSON,
	).Scan(&step.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("approval_flow_step", step.ID)
	}
	return mapStepWriteError(err, "failed to update approval flow step")
}

// Delete removes a step.
func (r *FlowStepRepository) Delete(ctx context.Context, id, companyID string) error {
	query := `
		DELETE FROM approval_flow_steps
		WHERE id = $1 AND company_id = $2
	`

	tag, err := r.q.Exec(ctx, query, id, companyID)
	if err != nil {
		return apperrors.Persistence(err, "failed to delete approval flow step")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("approval_flow_step", id)
	}
	return nil
}

// DeleteByCompany removes every step of a company.
func (r *FlowStepRepository) DeleteByCompany(ctx context.Context, companyID string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM approval_flow_steps WHERE company_id = $1`, companyID)
	if err != nil {
		return apperrors.Persistence(err, "failed to clear approval flow")
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func thresholdParam(t *decimal.Decimal) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

func marshalApproverIDs(ids []string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal approver ids")
	}
	return b, nil
}

// parseApproverIDs decodes the approver_ids column. Anything that is not a
// JSON array of strings is treated as absent so the step falls back to
// role-based eligibility.
func parseApproverIDs(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mapStepWriteError(err error, message string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperrors.New(apperrors.ErrCodeConflict, "step order already used by this company")
	}
	return apperrors.Persistence(err, message)
}

type stepScanner interface {
	Scan(dest ...any) error
}

func (r *FlowStepRepository) scanStep(row stepScanner) (*ApprovalFlowStep, error) {
	s := &ApprovalFlowStep{}
	var role string
	var threshold *string
	var approverJSON []byte

	err := row.Scan(
		&s.ID,
		&s.CompanyID,
		&s.StepOrder,
		&role,
		&threshold,
		&s.IsSequential,
		&s.MinApprovalPercentage,
		&approverJSON,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.RequiredRole = Role(role)
	if threshold != nil {
		t, err := decimal.NewFromString(*threshold)
		if err != nil {
			return nil, err
		}
		s.AmountThreshold = &t
	}
	s.ApproverIDs = parseApproverIDs(approverJSON)
	return s, nil
}
