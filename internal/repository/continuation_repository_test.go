package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/clefworks/msm-api/internal/models"
)

func newContinuationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestContinuationRepositoryCreateRunWithResponses(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO continuation_runs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO continuation_responses")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO continuation_responses")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	run := &models.ContinuationRun{
		OrgID:          "org-1",
		CurrentTermID:  "term-2",
		NextTermID:     "term-3",
		NoticeDeadline: time.Date(2026, time.April, 5, 0, 0, 0, 0, time.UTC),
		CreatedBy:      "user-1",
	}
	responses := []*models.ContinuationResponse{
		{OrgID: "org-1", StudentID: "s1", GuardianID: "g1", ResponseToken: "tok-1"},
		{OrgID: "org-1", StudentID: "s2", GuardianID: "g1", ResponseToken: "tok-2"},
	}
	require.NoError(t, repo.CreateRunWithResponses(context.Background(), run, responses))

	require.NotEmpty(t, run.ID)
	require.Equal(t, models.RunStatusDraft, run.Status)
	for _, resp := range responses {
		require.NotEmpty(t, resp.ID)
		require.Equal(t, run.ID, resp.RunID)
		require.Equal(t, models.ResponsePending, resp.Response)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryCreateRollsBackOnResponseError(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO continuation_runs")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO continuation_responses")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	run := &models.ContinuationRun{OrgID: "org-1", CurrentTermID: "term-2", NextTermID: "term-3"}
	err := repo.CreateRunWithResponses(context.Background(), run, []*models.ContinuationResponse{
		{OrgID: "org-1", StudentID: "s1", GuardianID: "g1", ResponseToken: "tok-1"},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryFindActiveRunByTermPair(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, current_term_id, next_term_id")).
		WithArgs("org-1", "term-2", "term-3", models.RunStatusCompleted).
		WillReturnError(sql.ErrNoRows)

	run, err := repo.FindActiveRunByTermPair(context.Background(), "org-1", "term-2", "term-3")
	require.NoError(t, err)
	require.Nil(t, run)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryUpdateRunStatus(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	sentAt := time.Date(2026, time.April, 12, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE continuation_runs SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateRunStatus(context.Background(), UpdateRunStatusParams{
		RunID:  "run-1",
		Status: models.RunStatusSent,
		SentAt: &sentAt,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryUpdateRunStatusMissingRun(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE continuation_runs SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRunStatus(context.Background(), UpdateRunStatusParams{
		RunID:  "missing",
		Status: models.RunStatusSent,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryCountResponses(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	rows := sqlmock.NewRows([]string{"response", "total"}).
		AddRow("continuing", 6).
		AddRow("withdrawing", 2).
		AddRow("pending", 3).
		AddRow("assumed_continuing", 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT response, COUNT(*) AS total FROM continuation_responses")).
		WithArgs("run-1").
		WillReturnRows(rows)

	summary, err := repo.CountResponses(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, 12, summary.TotalStudents)
	require.Equal(t, 6, summary.Confirmed)
	require.Equal(t, 2, summary.Withdrawing)
	require.Equal(t, 3, summary.Pending)
	require.Equal(t, 1, summary.AssumedContinuing)
	require.Equal(t, 0, summary.NoResponse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryRecordDecision(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE continuation_responses SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.RecordDecision(context.Background(), RecordDecisionParams{
		ResponseID:  "resp-1",
		Response:    models.ResponseContinuing,
		Method:      models.MethodEmailLink,
		RespondedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryRecordDecisionLosesRace(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE continuation_responses SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.RecordDecision(context.Background(), RecordDecisionParams{
		ResponseID:  "resp-1",
		Response:    models.ResponseWithdrawing,
		Method:      models.MethodPortal,
		RespondedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryResolvePending(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE continuation_responses SET")).
		WillReturnResult(sqlmock.NewResult(0, 4))

	resolved, err := repo.ResolvePending(context.Background(), "run-1", models.ResponseAssumedContinuing, time.Now().UTC())
	require.NoError(t, err)
	require.EqualValues(t, 4, resolved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContinuationRepositoryStampInitialSentNoIDs(t *testing.T) {
	db, mock, cleanup := newContinuationRepoMock(t)
	defer cleanup()

	repo := NewContinuationRepository(db)
	require.NoError(t, repo.StampInitialSent(context.Background(), nil, time.Now().UTC()))
	require.NoError(t, mock.ExpectationsWereMet())
}
