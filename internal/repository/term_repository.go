package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/clefworks/msm-api/internal/models"
)

// TermRepository reads academic terms and org-wide closure dates.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// FindByID loads a term scoped to the organisation.
func (r *TermRepository) FindByID(ctx context.Context, orgID, id string) (*models.Term, error) {
	const query = `SELECT id, org_id, name, start_date, end_date, created_at, updated_at
	FROM terms WHERE id = $1 AND org_id = $2`
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id, orgID); err != nil {
		return nil, err
	}
	return &term, nil
}

// ListClosureDates returns closure dates falling within the inclusive range.
func (r *TermRepository) ListClosureDates(ctx context.Context, orgID string, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT date FROM closure_dates WHERE org_id = $1 AND date >= $2 AND date <= $3 ORDER BY date`
	var dates []time.Time
	if err := r.db.SelectContext(ctx, &dates, query, orgID, from, to); err != nil {
		return nil, fmt.Errorf("list closure dates: %w", err)
	}
	return dates, nil
}
