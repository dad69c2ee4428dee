package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clefworks/msm-api/internal/models"
)

// GuardianRepository resolves guardian contacts and payer relationships.
type GuardianRepository struct {
	db *sqlx.DB
}

// NewGuardianRepository instantiates a guardian repository.
func NewGuardianRepository(db *sqlx.DB) *GuardianRepository {
	return &GuardianRepository{db: db}
}

type guardianPayerRow struct {
	StudentID string `db:"student_id"`
	models.Guardian
}

// PrimaryPayerByStudentIDs maps each student to their primary payer guardian.
// Students without a primary payer are simply absent from the result.
func (r *GuardianRepository) PrimaryPayerByStudentIDs(ctx context.Context, orgID string, studentIDs []string) (map[string]models.Guardian, error) {
	if len(studentIDs) == 0 {
		return map[string]models.Guardian{}, nil
	}

	const query = `SELECT sg.student_id,
	g.id, g.org_id, g.user_id, g.full_name, g.email, g.phone, g.created_at, g.updated_at
	FROM student_guardians sg
	JOIN guardians g ON g.id = sg.guardian_id
	WHERE g.org_id = $1 AND sg.is_primary_payer = TRUE AND sg.student_id = ANY($2)`

	var rows []guardianPayerRow
	if err := r.db.SelectContext(ctx, &rows, query, orgID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("resolve primary payers: %w", err)
	}

	result := make(map[string]models.Guardian, len(rows))
	for _, row := range rows {
		result[row.StudentID] = row.Guardian
	}
	return result, nil
}

// ListByIDs returns the guardian rows for the given ids, keyed by id.
func (r *GuardianRepository) ListByIDs(ctx context.Context, orgID string, ids []string) (map[string]models.Guardian, error) {
	if len(ids) == 0 {
		return map[string]models.Guardian{}, nil
	}

	const query = `SELECT id, org_id, user_id, full_name, email, phone, created_at, updated_at
	FROM guardians WHERE org_id = $1 AND id = ANY($2)`

	var rows []models.Guardian
	if err := r.db.SelectContext(ctx, &rows, query, orgID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}

	result := make(map[string]models.Guardian, len(rows))
	for _, g := range rows {
		result[g.ID] = g
	}
	return result, nil
}

// FindByUserID resolves the guardian row linked to a portal user account.
func (r *GuardianRepository) FindByUserID(ctx context.Context, userID string) (*models.Guardian, error) {
	const query = `SELECT id, org_id, user_id, full_name, email, phone, created_at, updated_at
	FROM guardians WHERE user_id = $1`
	var guardian models.Guardian
	if err := r.db.GetContext(ctx, &guardian, query, userID); err != nil {
		return nil, err
	}
	return &guardian, nil
}
