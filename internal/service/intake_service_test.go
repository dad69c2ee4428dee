package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clefworks/msm-api/internal/dto"
	"github.com/clefworks/msm-api/internal/models"
	appErrors "github.com/clefworks/msm-api/pkg/errors"
	"github.com/clefworks/msm-api/pkg/ratelimit"
)

type summaryStub struct {
	runs []string
	err  error
}

func (s *summaryStub) RecalculateSummary(ctx context.Context, runID string) (models.ContinuationSummary, error) {
	s.runs = append(s.runs, runID)
	return models.ContinuationSummary{}, s.err
}

type limiterStub struct {
	allowed    bool
	err        error
	identities []string
}

func (l *limiterStub) Check(ctx context.Context, identity, action string) (ratelimit.Decision, error) {
	l.identities = append(l.identities, identity)
	return ratelimit.Decision{Allowed: l.allowed}, l.err
}

func newIntakeFixture(status models.ContinuationRunStatus) (*IntakeService, *continuationRepoStub, *summaryStub, *auditStub) {
	repo := newContinuationRepoStub()
	repo.studentNames["s1"] = "Ada Chen"
	seedRun(repo, status, true, "s1")

	summaries := &summaryStub{}
	audit := &auditStub{}
	guardians := &guardianStoreStub{byUser: map[string]models.Guardian{
		"user-g1": {ID: "g1", OrgID: "org-1", FullName: "Mei Chen"},
	}}
	svc := NewIntakeService(repo, guardians, summaries, nil, audit, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC) }
	return svc, repo, summaries, audit
}

func guardianActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-g1", OrgID: "org-1", Role: models.RoleGuardian}
}

func TestSubmitByTokenRecordsContinuing(t *testing.T) {
	svc, repo, summaries, audit := newIntakeFixture(models.RunStatusSent)

	result, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{
		Token:    "token-s1-0",
		Response: "continuing",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, models.ResponseContinuing, result.Response)
	require.Equal(t, "Ada Chen", result.StudentName)

	for _, resp := range repo.responses {
		require.Equal(t, models.ResponseContinuing, resp.Response)
		require.Equal(t, models.MethodEmailLink, *resp.ResponseMethod)
		require.NotNil(t, resp.ResponseAt)
	}
	require.Len(t, summaries.runs, 1)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionResponseRecorded, audit.logs[0].Action)
}

func TestSubmitByTokenSecondSubmissionIsReported(t *testing.T) {
	svc, _, summaries, _ := newIntakeFixture(models.RunStatusSent)

	_, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{Token: "token-s1-0", Response: "continuing"})
	require.NoError(t, err)

	second, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{Token: "token-s1-0", Response: "withdrawing"})
	require.NoError(t, err)
	require.False(t, second.Success)
	require.True(t, second.AlreadyResponded)
	require.Equal(t, models.ResponseContinuing, second.CurrentResponse)

	// The summary is only refreshed for the submission that landed.
	require.Len(t, summaries.runs, 1)
}

func TestSubmitByTokenWithdrawalKeepsReason(t *testing.T) {
	svc, repo, _, _ := newIntakeFixture(models.RunStatusReminding)

	result, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{
		Token:            "token-s1-0",
		Response:         "withdrawing",
		WithdrawalReason: "  moving interstate ",
		WithdrawalNotes:  "",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	for _, resp := range repo.responses {
		require.Equal(t, models.ResponseWithdrawing, resp.Response)
		require.NotNil(t, resp.WithdrawalReason)
		require.Equal(t, "moving interstate", *resp.WithdrawalReason)
		require.Nil(t, resp.WithdrawalNotes)
	}
}

func TestSubmitByTokenRejectsOtherValues(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)

	_, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{Token: "token-s1-0", Response: "maybe"})
	requireAppError(t, err, appErrors.ErrValidation.Code)
}

func TestSubmitByTokenRunClosed(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusDeadlinePassed)

	_, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{Token: "token-s1-0", Response: "continuing"})
	requireAppError(t, err, appErrors.ErrRunClosed.Code)
}

func TestSubmitByTokenUnknownToken(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)

	_, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{Token: "nope", Response: "continuing"})
	requireAppError(t, err, appErrors.ErrNotFound.Code)
}

func TestSubmitByTokenRateLimited(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)
	limiter := &limiterStub{allowed: false}
	svc.limiter = limiter

	_, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{Token: "token-s1-0", Response: "continuing"})
	requireAppError(t, err, appErrors.ErrRateLimited.Code)

	// The limiter sees a digest, never the raw token.
	require.Len(t, limiter.identities, 1)
	require.NotContains(t, limiter.identities[0], "token-s1-0")
	require.Len(t, limiter.identities[0], 64)
}

func TestSubmitByTokenLimiterFailureAllows(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)
	svc.limiter = &limiterStub{allowed: false, err: context.DeadlineExceeded}

	result, err := svc.SubmitByToken(context.Background(), dto.TokenSubmitRequest{Token: "token-s1-0", Response: "continuing"})
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestSubmitForGuardianRecordsPortalMethod(t *testing.T) {
	svc, repo, _, _ := newIntakeFixture(models.RunStatusSent)

	result, err := svc.SubmitForGuardian(context.Background(), dto.PortalSubmitRequest{
		RunID:     "run-1",
		StudentID: "s1",
		Response:  "continuing",
	}, guardianActor())
	require.NoError(t, err)
	require.True(t, result.Success)

	for _, resp := range repo.responses {
		require.Equal(t, models.MethodPortal, *resp.ResponseMethod)
	}
}

func TestSubmitForGuardianRateLimited(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)
	limiter := &limiterStub{allowed: false}
	svc.limiter = limiter

	_, err := svc.SubmitForGuardian(context.Background(), dto.PortalSubmitRequest{RunID: "run-1", StudentID: "s1", Response: "continuing"}, guardianActor())
	requireAppError(t, err, appErrors.ErrRateLimited.Code)
	require.Equal(t, []string{"user:user-g1"}, limiter.identities)
}

func TestSubmitForGuardianRequiresAuth(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)

	_, err := svc.SubmitForGuardian(context.Background(), dto.PortalSubmitRequest{RunID: "run-1", StudentID: "s1", Response: "continuing"}, nil)
	requireAppError(t, err, appErrors.ErrUnauthorized.Code)
}

func TestSubmitForGuardianWrongStudent(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)

	_, err := svc.SubmitForGuardian(context.Background(), dto.PortalSubmitRequest{
		RunID:     "run-1",
		StudentID: "someone-else",
		Response:  "continuing",
	}, guardianActor())
	requireAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestSubmitForGuardianOrgMismatch(t *testing.T) {
	svc, _, _, _ := newIntakeFixture(models.RunStatusSent)
	actor := guardianActor()
	actor.OrgID = "org-other"

	_, err := svc.SubmitForGuardian(context.Background(), dto.PortalSubmitRequest{RunID: "run-1", StudentID: "s1", Response: "continuing"}, actor)
	requireAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestTokenPreviewOpenAndClosed(t *testing.T) {
	svc, repo, _, _ := newIntakeFixture(models.RunStatusSent)

	preview, err := svc.TokenPreview(context.Background(), "token-s1-0")
	require.NoError(t, err)
	require.True(t, preview.Open)
	require.Equal(t, "Ada Chen", preview.StudentName)
	require.Equal(t, "Term 3 2026", preview.NextTermName)
	require.Equal(t, 27000, preview.NextTermFeeCents)
	require.Equal(t, models.ResponsePending, preview.CurrentResponse)
	require.Len(t, preview.LessonSummary, 1)

	for _, resp := range repo.responses {
		resp.Response = models.ResponseContinuing
	}
	preview, err = svc.TokenPreview(context.Background(), "token-s1-0")
	require.NoError(t, err)
	require.False(t, preview.Open)
	require.Equal(t, models.ResponseContinuing, preview.CurrentResponse)
}
