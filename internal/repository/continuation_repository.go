package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clefworks/msm-api/internal/models"
)

// ContinuationRepository persists continuation runs, responses and the
// outbound message log.
type ContinuationRepository struct {
	db *sqlx.DB
}

// NewContinuationRepository constructs the repository.
func NewContinuationRepository(db *sqlx.DB) *ContinuationRepository {
	return &ContinuationRepository{db: db}
}

const runColumns = `id, org_id, current_term_id, next_term_id, notice_deadline, assumed_continuing,
	reminder_schedule, status, summary, sent_at, deadline_passed_at, created_by, created_at, updated_at`

const responseColumns = `id, run_id, org_id, student_id, guardian_id, lesson_summary, next_term_fee_cents,
	response, response_at, response_method, response_token, withdrawal_reason, withdrawal_notes,
	initial_sent_at, reminder_count, reminder_1_sent_at, reminder_2_sent_at, created_at, updated_at`

// CreateRunWithResponses inserts the run and its response rows atomically.
func (r *ContinuationRepository) CreateRunWithResponses(ctx context.Context, run *models.ContinuationRun, responses []*models.ContinuationResponse) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = models.RunStatusDraft
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const runInsert = `INSERT INTO continuation_runs
	(id, org_id, current_term_id, next_term_id, notice_deadline, assumed_continuing, reminder_schedule,
	 status, summary, sent_at, deadline_passed_at, created_by, created_at, updated_at)
	VALUES (:id, :org_id, :current_term_id, :next_term_id, :notice_deadline, :assumed_continuing, :reminder_schedule,
	 :status, :summary, :sent_at, :deadline_passed_at, :created_by, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, runInsert, run); err != nil {
		return fmt.Errorf("insert continuation run: %w", err)
	}

	const respInsert = `INSERT INTO continuation_responses
	(id, run_id, org_id, student_id, guardian_id, lesson_summary, next_term_fee_cents, response,
	 response_token, reminder_count, created_at, updated_at)
	VALUES (:id, :run_id, :org_id, :student_id, :guardian_id, :lesson_summary, :next_term_fee_cents, :response,
	 :response_token, :reminder_count, :created_at, :updated_at)`
	for _, resp := range responses {
		if resp.ID == "" {
			resp.ID = uuid.NewString()
		}
		resp.RunID = run.ID
		resp.CreatedAt = now
		resp.UpdatedAt = now
		if resp.Response == "" {
			resp.Response = models.ResponsePending
		}
		if _, err = tx.NamedExecContext(ctx, respInsert, resp); err != nil {
			return fmt.Errorf("insert continuation response: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run tx: %w", err)
	}
	return nil
}

// FindRunByID loads a run by identifier.
func (r *ContinuationRepository) FindRunByID(ctx context.Context, id string) (*models.ContinuationRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM continuation_runs WHERE id = $1`, runColumns)
	var run models.ContinuationRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// FindActiveRunByTermPair returns the non-completed run for a term pair, if any.
// The uniqueness invariant is enforced here at read time, not by a constraint,
// so concurrent creates must re-check.
func (r *ContinuationRepository) FindActiveRunByTermPair(ctx context.Context, orgID, currentTermID, nextTermID string) (*models.ContinuationRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM continuation_runs
	WHERE org_id = $1 AND current_term_id = $2 AND next_term_id = $3 AND status <> $4
	ORDER BY created_at DESC LIMIT 1`, runColumns)
	var run models.ContinuationRun
	err := r.db.GetContext(ctx, &run, query, orgID, currentTermID, nextTermID, models.RunStatusCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active run: %w", err)
	}
	return &run, nil
}

// ListRunsByOrg returns the organisation's runs, newest first.
func (r *ContinuationRepository) ListRunsByOrg(ctx context.Context, orgID string) ([]models.ContinuationRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM continuation_runs WHERE org_id = $1 ORDER BY created_at DESC`, runColumns)
	var runs []models.ContinuationRun
	if err := r.db.SelectContext(ctx, &runs, query, orgID); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// UpdateRunStatusParams carries a status transition and its timestamps.
type UpdateRunStatusParams struct {
	RunID            string
	Status           models.ContinuationRunStatus
	SentAt           *time.Time
	DeadlinePassedAt *time.Time
}

// UpdateRunStatus persists a status transition, stamping sent_at and
// deadline_passed_at only when provided.
func (r *ContinuationRepository) UpdateRunStatus(ctx context.Context, params UpdateRunStatusParams) error {
	const query = `UPDATE continuation_runs SET
	status = $2,
	sent_at = COALESCE($3, sent_at),
	deadline_passed_at = COALESCE($4, deadline_passed_at),
	updated_at = $5
	WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, params.RunID, params.Status, params.SentAt, params.DeadlinePassedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SaveRunSummary persists the derived summary onto the run row.
func (r *ContinuationRepository) SaveRunSummary(ctx context.Context, runID string, summary models.ContinuationSummary) error {
	const query = `UPDATE continuation_runs SET summary = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, runID, summary, time.Now().UTC()); err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

// CountResponses derives the run summary by counting current response rows
// grouped by value. Never incremented in place, so it self-heals after any
// number of concurrent writers.
func (r *ContinuationRepository) CountResponses(ctx context.Context, runID string) (models.ContinuationSummary, error) {
	const query = `SELECT response, COUNT(*) AS total FROM continuation_responses WHERE run_id = $1 GROUP BY response`
	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return models.ContinuationSummary{}, fmt.Errorf("count responses: %w", err)
	}
	defer rows.Close()

	var summary models.ContinuationSummary
	for rows.Next() {
		var value models.ResponseValue
		var total int
		if err := rows.Scan(&value, &total); err != nil {
			return models.ContinuationSummary{}, fmt.Errorf("scan response count: %w", err)
		}
		summary.TotalStudents += total
		switch value {
		case models.ResponseContinuing:
			summary.Confirmed += total
		case models.ResponseWithdrawing:
			summary.Withdrawing += total
		case models.ResponsePending:
			summary.Pending += total
		case models.ResponseNoResponse:
			summary.NoResponse += total
		case models.ResponseAssumedContinuing:
			summary.AssumedContinuing += total
		}
	}
	return summary, rows.Err()
}

// ListResponsesByRun returns every response row for a run.
func (r *ContinuationRepository) ListResponsesByRun(ctx context.Context, runID string) ([]models.ContinuationResponse, error) {
	query := fmt.Sprintf(`SELECT %s FROM continuation_responses WHERE run_id = $1 ORDER BY created_at`, responseColumns)
	var responses []models.ContinuationResponse
	if err := r.db.SelectContext(ctx, &responses, query, runID); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return responses, nil
}

const responseDetailSelect = `SELECT
	cr.id, cr.run_id, cr.org_id, cr.student_id, cr.guardian_id, cr.lesson_summary, cr.next_term_fee_cents,
	cr.response, cr.response_at, cr.response_method, cr.response_token, cr.withdrawal_reason, cr.withdrawal_notes,
	cr.initial_sent_at, cr.reminder_count, cr.reminder_1_sent_at, cr.reminder_2_sent_at, cr.created_at, cr.updated_at,
	s.full_name AS student_name,
	run.status AS run_status,
	run.next_term_id AS next_term_id,
	t.name AS next_term_name
FROM continuation_responses cr
JOIN continuation_runs run ON run.id = cr.run_id
JOIN students s ON s.id = cr.student_id
JOIN terms t ON t.id = run.next_term_id`

// FindResponseByToken resolves a response row plus display context from an
// opaque email link token.
func (r *ContinuationRepository) FindResponseByToken(ctx context.Context, token string) (*models.ResponseDetail, error) {
	query := responseDetailSelect + ` WHERE cr.response_token = $1`
	var detail models.ResponseDetail
	if err := r.db.GetContext(ctx, &detail, query, token); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindResponseForGuardian locates the row for (run, student) owned by the
// given guardian. The guardian scope prevents answering for another family.
func (r *ContinuationRepository) FindResponseForGuardian(ctx context.Context, runID, studentID, guardianID string) (*models.ResponseDetail, error) {
	query := responseDetailSelect + ` WHERE cr.run_id = $1 AND cr.student_id = $2 AND cr.guardian_id = $3`
	var detail models.ResponseDetail
	if err := r.db.GetContext(ctx, &detail, query, runID, studentID, guardianID); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListResponseDetailsByRun returns every response row joined with display context.
func (r *ContinuationRepository) ListResponseDetailsByRun(ctx context.Context, runID string) ([]models.ResponseDetail, error) {
	query := responseDetailSelect + ` WHERE cr.run_id = $1 ORDER BY s.full_name`
	var details []models.ResponseDetail
	if err := r.db.SelectContext(ctx, &details, query, runID); err != nil {
		return nil, fmt.Errorf("list response details: %w", err)
	}
	return details, nil
}

// ListPendingResponseDetails returns still-pending rows with display context,
// ordered by guardian so dispatch batches group naturally.
func (r *ContinuationRepository) ListPendingResponseDetails(ctx context.Context, runID string) ([]models.ResponseDetail, error) {
	query := responseDetailSelect + ` WHERE cr.run_id = $1 AND cr.response = $2 ORDER BY cr.guardian_id, s.full_name`
	var details []models.ResponseDetail
	if err := r.db.SelectContext(ctx, &details, query, runID, models.ResponsePending); err != nil {
		return nil, fmt.Errorf("list pending response details: %w", err)
	}
	return details, nil
}

// RecordDecisionParams captures a participant decision.
type RecordDecisionParams struct {
	ResponseID       string
	Response         models.ResponseValue
	Method           models.ResponseMethod
	RespondedAt      time.Time
	WithdrawalReason *string
	WithdrawalNotes  *string
}

// RecordDecision applies a decision only if the row is still pending. Returns
// false when another writer got there first, which callers treat as the
// idempotent already-responded case.
func (r *ContinuationRepository) RecordDecision(ctx context.Context, params RecordDecisionParams) (bool, error) {
	const query = `UPDATE continuation_responses SET
	response = $2, response_at = $3, response_method = $4,
	withdrawal_reason = $5, withdrawal_notes = $6, updated_at = $3
	WHERE id = $1 AND response = $7`
	result, err := r.db.ExecContext(ctx, query,
		params.ResponseID, params.Response, params.RespondedAt, params.Method,
		params.WithdrawalReason, params.WithdrawalNotes, models.ResponsePending)
	if err != nil {
		return false, fmt.Errorf("record decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record decision rows: %w", err)
	}
	return affected > 0, nil
}

// StampInitialSent marks rows as included in the initial dispatch.
func (r *ContinuationRepository) StampInitialSent(ctx context.Context, responseIDs []string, at time.Time) error {
	if len(responseIDs) == 0 {
		return nil
	}
	const query = `UPDATE continuation_responses SET initial_sent_at = $1, updated_at = $1 WHERE id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, at, pq.Array(responseIDs)); err != nil {
		return fmt.Errorf("stamp initial sent: %w", err)
	}
	return nil
}

// IncrementReminders bumps the reminder counter and stamps the first and
// second reminder timestamps. Reminders beyond the second are counted only.
func (r *ContinuationRepository) IncrementReminders(ctx context.Context, responseIDs []string, at time.Time) error {
	if len(responseIDs) == 0 {
		return nil
	}
	const query = `UPDATE continuation_responses SET
	reminder_count = reminder_count + 1,
	reminder_1_sent_at = CASE WHEN reminder_count = 0 THEN $1 ELSE reminder_1_sent_at END,
	reminder_2_sent_at = CASE WHEN reminder_count = 1 THEN $1 ELSE reminder_2_sent_at END,
	updated_at = $1
	WHERE id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, at, pq.Array(responseIDs)); err != nil {
		return fmt.Errorf("increment reminders: %w", err)
	}
	return nil
}

// ResolvePending bulk-transitions every still-pending row of a run to the
// policy value. Rows already decided are never touched.
func (r *ContinuationRepository) ResolvePending(ctx context.Context, runID string, value models.ResponseValue, at time.Time) (int64, error) {
	const query = `UPDATE continuation_responses SET
	response = $2, response_at = $3, response_method = $4, updated_at = $3
	WHERE run_id = $1 AND response = $5`
	result, err := r.db.ExecContext(ctx, query, runID, value, at, models.MethodAutoDeadline, models.ResponsePending)
	if err != nil {
		return 0, fmt.Errorf("resolve pending responses: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("resolve pending rows: %w", err)
	}
	return affected, nil
}

// InsertMessage logs an outbound email before delivery is attempted.
func (r *ContinuationRepository) InsertMessage(ctx context.Context, msg *models.ContinuationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusPending
	}
	const query = `INSERT INTO continuation_messages
	(id, run_id, org_id, guardian_id, kind, recipient_email, student_count, status, error_detail, created_at)
	VALUES (:id, :run_id, :org_id, :guardian_id, :kind, :recipient_email, :student_count, :status, :error_detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("insert continuation message: %w", err)
	}
	return nil
}

// MarkMessageResult records the delivery outcome for a logged message.
func (r *ContinuationRepository) MarkMessageResult(ctx context.Context, messageID, status string, errorDetail *string) error {
	const query = `UPDATE continuation_messages SET status = $2, error_detail = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, messageID, status, errorDetail); err != nil {
		return fmt.Errorf("mark message result: %w", err)
	}
	return nil
}
