package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// DirectoryRepository reads companies and their users. Membership is managed
// elsewhere; this service only resolves approvers against it.
type DirectoryRepository struct {
	q database.Querier
}

// NewDirectoryRepository creates a DirectoryRepository.
func NewDirectoryRepository(q database.Querier) *DirectoryRepository {
	return &DirectoryRepository{q: q}
}

// GetCompany retrieves a company by id.
func (r *DirectoryRepository) GetCompany(ctx context.Context, id string) (*Company, error) {
	query := `
		SELECT id, name, currency, created_at
		FROM companies
		WHERE id = $1
	`

	c := &Company{}
	err := r.q.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Currency, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("company", id)
	}
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to get company")
	}
	return c, nil
}

// GetUser retrieves a user by id.
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, company_id, name, email, role, manager_id, created_at
		FROM users
		WHERE id = $1
	`

	u, err := r.scanUser(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to get user")
	}
	return u, nil
}

// ListUsersByRole returns a company's users holding role, ordered by name then id.
func (r *DirectoryRepository) ListUsersByRole(ctx context.Context, companyID string, role Role) ([]*User, error) {
	query := `
		SELECT id, company_id, name, email, role, manager_id, created_at
		FROM users
		WHERE company_id = $1 AND role = $2::user_role
		ORDER BY name ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, companyID, string(role))
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list users by role")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListUsersByIDs returns users in the order of ids, skipping unknown ids.
func (r *DirectoryRepository) ListUsersByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return []*User{}, nil
	}

	query := `
		SELECT id, company_id, name, email, role, manager_id, created_at
		FROM users
		WHERE id = ANY($1::varchar[])
		ORDER BY array_position($1::varchar[], id)
	`

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list users by id")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type userScanner interface {
	Scan(dest ...any) error
}

func (r *DirectoryRepository) scanUser(row userScanner) (*User, error) {
	u := &User{}
	var role string
	err := row.Scan(
		&u.ID,
		&u.CompanyID,
		&u.Name,
		&u.Email,
		&role,
		&u.ManagerID,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return u, nil
}

func (r *DirectoryRepository) scanRows(rows pgx.Rows) ([]*User, error) {
	users := make([]*User, 0)
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, apperrors.Persistence(err, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence(err, "failed to read users")
	}
	return users, nil
}
