package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/clefworks/msm-api/internal/models"
)

// RateCardRepository reads lesson pricing configuration.
type RateCardRepository struct {
	db *sqlx.DB
}

// NewRateCardRepository instantiates a rate card repository.
func NewRateCardRepository(db *sqlx.DB) *RateCardRepository {
	return &RateCardRepository{db: db}
}

// ListByOrg returns every rate card for the organisation, default first.
func (r *RateCardRepository) ListByOrg(ctx context.Context, orgID string) ([]models.RateCard, error) {
	const query = `SELECT id, org_id, name, duration_minutes, amount_cents, is_default, created_at
	FROM rate_cards WHERE org_id = $1 ORDER BY is_default DESC, created_at`
	var cards []models.RateCard
	if err := r.db.SelectContext(ctx, &cards, query, orgID); err != nil {
		return nil, fmt.Errorf("list rate cards: %w", err)
	}
	return cards, nil
}
