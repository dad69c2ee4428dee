package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clefworks/msm-api/internal/models"
)

// StudentRepository reads student records for build-time enrichment.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository instantiates a student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// ListByIDs loads students by id, excluding soft-deleted rows.
func (r *StudentRepository) ListByIDs(ctx context.Context, orgID string, ids []string) ([]models.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id, org_id, full_name, status, default_rate_card_id, deleted_at, created_at, updated_at
	FROM students WHERE org_id = $1 AND id = ANY($2) AND deleted_at IS NULL`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, orgID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}
