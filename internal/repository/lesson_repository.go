package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clefworks/msm-api/internal/models"
)

// LessonRepository serves the eligibility queries for continuation runs.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository instantiates a lesson repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// ListRecurringLessonRows is the primary eligibility query: one joined pass over
// lessons, students, recurrence rules and teachers for the term window. Only
// non-cancelled lessons belonging to a recurrence and to an active, non-deleted
// student are returned.
func (r *LessonRepository) ListRecurringLessonRows(ctx context.Context, orgID string, start, end time.Time) ([]models.RecurringLessonRow, error) {
	const query = `SELECT
	l.id AS lesson_id,
	s.id AS student_id,
	s.full_name AS student_name,
	s.status AS student_status,
	s.default_rate_card_id,
	rr.id AS recurrence_id,
	rr.days_of_week,
	rr.start_time,
	t.full_name AS teacher_name,
	l.instrument,
	l.starts_at,
	l.ends_at
FROM lessons l
JOIN students s ON s.id = l.student_id AND s.deleted_at IS NULL
JOIN recurrence_rules rr ON rr.id = l.recurrence_id
LEFT JOIN teachers t ON t.id = l.teacher_id
WHERE l.org_id = $1
  AND l.starts_at >= $2
  AND l.starts_at <= $3
  AND l.status <> 'cancelled'
  AND l.recurrence_id IS NOT NULL
  AND s.status = 'active'
ORDER BY s.id, rr.id, l.starts_at`

	var rows []models.RecurringLessonRow
	if err := r.db.SelectContext(ctx, &rows, query, orgID, start, end); err != nil {
		return nil, fmt.Errorf("list recurring lesson rows: %w", err)
	}
	return rows, nil
}

// ListLessonsInRange is the first narrow query of the fallback path: bare
// lesson rows in the window with a recurrence attached.
func (r *LessonRepository) ListLessonsInRange(ctx context.Context, orgID string, start, end time.Time) ([]models.Lesson, error) {
	const query = `SELECT id, org_id, student_id, teacher_id, recurrence_id, instrument, starts_at, ends_at, status
	FROM lessons
	WHERE org_id = $1 AND starts_at >= $2 AND starts_at <= $3
	  AND status <> 'cancelled' AND recurrence_id IS NOT NULL
	ORDER BY student_id, recurrence_id, starts_at`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, orgID, start, end); err != nil {
		return nil, fmt.Errorf("list lessons in range: %w", err)
	}
	return lessons, nil
}

// ListRecurrenceRules loads recurrence rules by id.
func (r *LessonRepository) ListRecurrenceRules(ctx context.Context, orgID string, ids []string) ([]models.RecurrenceRule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id, org_id, days_of_week, start_time, duration_minutes, created_at
	FROM recurrence_rules WHERE org_id = $1 AND id = ANY($2)`
	var rules []models.RecurrenceRule
	if err := r.db.SelectContext(ctx, &rules, query, orgID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list recurrence rules: %w", err)
	}
	return rules, nil
}

// ListTeacherNames maps teacher ids to display names.
func (r *LessonRepository) ListTeacherNames(ctx context.Context, orgID string, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	const query = `SELECT id, full_name FROM teachers WHERE org_id = $1 AND id = ANY($2)`
	rows, err := r.db.QueryxContext(ctx, query, orgID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list teacher names: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan teacher name: %w", err)
		}
		result[id] = name
	}
	return result, rows.Err()
}
