package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clefworks/msm-api/internal/dto"
	"github.com/clefworks/msm-api/internal/models"
	"github.com/clefworks/msm-api/internal/repository"
	appErrors "github.com/clefworks/msm-api/pkg/errors"
	"github.com/clefworks/msm-api/pkg/ratelimit"
)

type intakeStore interface {
	FindResponseByToken(ctx context.Context, token string) (*models.ResponseDetail, error)
	FindResponseForGuardian(ctx context.Context, runID, studentID, guardianID string) (*models.ResponseDetail, error)
	RecordDecision(ctx context.Context, params repository.RecordDecisionParams) (bool, error)
}

type guardianResolver interface {
	FindByUserID(ctx context.Context, userID string) (*models.Guardian, error)
}

type summaryRefresher interface {
	RecalculateSummary(ctx context.Context, runID string) (models.ContinuationSummary, error)
}

// IntakeService records participant decisions arriving through email link
// tokens and the authenticated guardian portal. Both paths share the same
// write-once semantics: a decision lands only while the row is still pending,
// and a second submission reports the recorded value instead of failing.
type IntakeService struct {
	repo      intakeStore
	guardians guardianResolver
	summaries summaryRefresher
	limiter   ratelimit.Limiter
	audit     auditLogger
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewIntakeService constructs the intake service.
func NewIntakeService(
	repo intakeStore,
	guardians guardianResolver,
	summaries summaryRefresher,
	limiter ratelimit.Limiter,
	audit auditLogger,
	metrics *MetricsService,
	logger *zap.Logger,
) *IntakeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{
		repo:      repo,
		guardians: guardians,
		summaries: summaries,
		limiter:   limiter,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitByToken records a decision reached through an email link. The token
// is the only credential, so lookups are rate limited and a bad token returns
// a generic not-found without revealing whether it ever existed.
func (s *IntakeService) SubmitByToken(ctx context.Context, req dto.TokenSubmitRequest) (*dto.SubmitResult, error) {
	if err := s.checkRate(ctx, tokenDigest(req.Token)); err != nil {
		return nil, err
	}

	detail, err := s.repo.FindResponseByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid response link")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up response")
	}

	return s.record(ctx, detail, req.Response, req.WithdrawalReason, req.WithdrawalNotes, models.MethodEmailLink, nil)
}

// SubmitForGuardian records a decision made in the authenticated portal. The
// signed-in user must be linked to the guardian who owns the response row.
func (s *IntakeService) SubmitForGuardian(ctx context.Context, req dto.PortalSubmitRequest, actor *models.JWTClaims) (*dto.SubmitResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.checkRate(ctx, "user:"+actor.UserID); err != nil {
		return nil, err
	}

	guardian, err := s.guardians.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no guardian profile is linked to this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve guardian")
	}
	if guardian.OrgID != actor.OrgID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no guardian profile is linked to this account")
	}

	detail, err := s.repo.FindResponseForGuardian(ctx, req.RunID, req.StudentID, guardian.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot respond for this student")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up response")
	}

	return s.record(ctx, detail, req.Response, req.WithdrawalReason, req.WithdrawalNotes, models.MethodPortal, actor)
}

// TokenPreview backs the unauthenticated response page reached from an email
// link, showing the student's projected schedule before they decide.
func (s *IntakeService) TokenPreview(ctx context.Context, token string) (*dto.RespondPreview, error) {
	if err := s.checkRate(ctx, tokenDigest(token)); err != nil {
		return nil, err
	}

	detail, err := s.repo.FindResponseByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid response link")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up response")
	}

	return &dto.RespondPreview{
		StudentName:      detail.StudentName,
		NextTermName:     detail.NextTermName,
		NextTermFeeCents: detail.NextTermFeeCents,
		LessonSummary:    detail.LessonSummary,
		Open:             models.RunAcceptsResponses(detail.RunStatus) && !detail.Response.IsTerminal(),
		CurrentResponse:  detail.Response,
	}, nil
}

func (s *IntakeService) record(
	ctx context.Context,
	detail *models.ResponseDetail,
	response, withdrawalReason, withdrawalNotes string,
	method models.ResponseMethod,
	actor *models.JWTClaims,
) (*dto.SubmitResult, error) {
	if detail.Response.IsTerminal() {
		return &dto.SubmitResult{
			AlreadyResponded: true,
			CurrentResponse:  detail.Response,
			StudentName:      detail.StudentName,
			NextTermName:     detail.NextTermName,
			Message:          "a response has already been recorded for this student",
		}, nil
	}
	if !models.RunAcceptsResponses(detail.RunStatus) {
		return nil, appErrors.ErrRunClosed
	}

	value := models.ResponseValue(response)
	if value != models.ResponseContinuing && value != models.ResponseWithdrawing {
		return nil, appErrors.Clone(appErrors.ErrValidation, "response must be continuing or withdrawing")
	}

	params := repository.RecordDecisionParams{
		ResponseID:  detail.ID,
		Response:    value,
		Method:      method,
		RespondedAt: s.now().UTC(),
	}
	if value == models.ResponseWithdrawing {
		if reason := strings.TrimSpace(withdrawalReason); reason != "" {
			params.WithdrawalReason = &reason
		}
		if notes := strings.TrimSpace(withdrawalNotes); notes != "" {
			params.WithdrawalNotes = &notes
		}
	}

	applied, err := s.repo.RecordDecision(ctx, params)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record response")
	}
	if !applied {
		// Another writer won the pending row. Report theirs, not ours.
		current := detail.Response
		if reloaded, err := s.repo.FindResponseForGuardian(ctx, detail.RunID, detail.StudentID, detail.GuardianID); err == nil {
			current = reloaded.Response
		}
		return &dto.SubmitResult{
			AlreadyResponded: true,
			CurrentResponse:  current,
			StudentName:      detail.StudentName,
			NextTermName:     detail.NextTermName,
			Message:          "a response has already been recorded for this student",
		}, nil
	}

	if _, err := s.summaries.RecalculateSummary(ctx, detail.RunID); err != nil {
		s.logger.Warn("summary recalculation failed after response", zap.String("run_id", detail.RunID), zap.Error(err))
	}
	s.metrics.RecordContinuationResponse(method)
	s.emitResponseAudit(ctx, detail, value, method, actor)
	s.logger.Info("continuation response recorded",
		zap.String("run_id", detail.RunID),
		zap.String("student_id", detail.StudentID),
		zap.String("response", string(value)),
		zap.String("method", string(method)),
	)

	return &dto.SubmitResult{
		Success:      true,
		Response:     value,
		StudentName:  detail.StudentName,
		NextTermName: detail.NextTermName,
	}, nil
}

// checkRate consults the limiter with an already-derived identity. A limiter
// outage allows the request through rather than locking participants out.
func (s *IntakeService) checkRate(ctx context.Context, identity string) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Check(ctx, identity, "respond")
	if err != nil {
		s.logger.Warn("rate limit check failed", zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		return appErrors.ErrRateLimited
	}
	return nil
}

func (s *IntakeService) emitResponseAudit(ctx context.Context, detail *models.ResponseDetail, value models.ResponseValue, method models.ResponseMethod, actor *models.JWTClaims) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		OrgID:      detail.OrgID,
		Action:     models.AuditActionResponseRecorded,
		Resource:   "continuation_response",
		ResourceID: &detail.ID,
	}
	if actor != nil {
		userID := actor.UserID
		log.UserID = &userID
	}
	if payload, err := json.Marshal(map[string]interface{}{
		"response": value,
		"method":   method,
	}); err == nil {
		log.NewValues = payload
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", models.AuditActionResponseRecorded), zap.Error(err))
	}
}

// tokenDigest hashes the raw token so rate limiter keys never store it.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
