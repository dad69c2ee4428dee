package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clefworks/msm-api/internal/dto"
	"github.com/clefworks/msm-api/internal/models"
	"github.com/clefworks/msm-api/internal/repository"
	"github.com/clefworks/msm-api/pkg/config"
	appErrors "github.com/clefworks/msm-api/pkg/errors"
	"github.com/clefworks/msm-api/pkg/export"
	"github.com/clefworks/msm-api/pkg/mailer"
)

type continuationStore interface {
	CreateRunWithResponses(ctx context.Context, run *models.ContinuationRun, responses []*models.ContinuationResponse) error
	FindRunByID(ctx context.Context, id string) (*models.ContinuationRun, error)
	FindActiveRunByTermPair(ctx context.Context, orgID, currentTermID, nextTermID string) (*models.ContinuationRun, error)
	ListRunsByOrg(ctx context.Context, orgID string) ([]models.ContinuationRun, error)
	UpdateRunStatus(ctx context.Context, params repository.UpdateRunStatusParams) error
	SaveRunSummary(ctx context.Context, runID string, summary models.ContinuationSummary) error
	CountResponses(ctx context.Context, runID string) (models.ContinuationSummary, error)
	ListResponsesByRun(ctx context.Context, runID string) ([]models.ContinuationResponse, error)
	ListResponseDetailsByRun(ctx context.Context, runID string) ([]models.ResponseDetail, error)
	ListPendingResponseDetails(ctx context.Context, runID string) ([]models.ResponseDetail, error)
	StampInitialSent(ctx context.Context, responseIDs []string, at time.Time) error
	IncrementReminders(ctx context.Context, responseIDs []string, at time.Time) error
	ResolvePending(ctx context.Context, runID string, value models.ResponseValue, at time.Time) (int64, error)
	InsertMessage(ctx context.Context, msg *models.ContinuationMessage) error
	MarkMessageResult(ctx context.Context, messageID, status string, errorDetail *string) error
}

type termStore interface {
	FindByID(ctx context.Context, orgID, id string) (*models.Term, error)
	ListClosureDates(ctx context.Context, orgID string, from, to time.Time) ([]time.Time, error)
}

type guardianStore interface {
	PrimaryPayerByStudentIDs(ctx context.Context, orgID string, studentIDs []string) (map[string]models.Guardian, error)
	ListByIDs(ctx context.Context, orgID string, ids []string) (map[string]models.Guardian, error)
}

type rateCardStore interface {
	ListByOrg(ctx context.Context, orgID string) ([]models.RateCard, error)
}

type eligibilityCollector interface {
	Collect(ctx context.Context, orgID string, term *models.Term) (map[string]*EligibleStudent, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type runCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const runListCachePattern = "continuation:runs:*"

func runListCacheKey(orgID string) string {
	return "continuation:runs:" + orgID
}

// ContinuationService orchestrates the end-of-term continuation workflow:
// building runs, dispatching guardian email, reminders, and deadline closure.
type ContinuationService struct {
	repo        continuationStore
	terms       termStore
	guardians   guardianStore
	rateCards   rateCardStore
	eligibility eligibilityCollector
	mail        mailer.Sender
	audit       auditLogger
	metrics     *MetricsService
	cache       runCache
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	logger      *zap.Logger
	cfg         config.ContinuationConfig
	email       config.EmailConfig
	now         func() time.Time
}

// NewContinuationService constructs the workflow service.
func NewContinuationService(
	repo continuationStore,
	terms termStore,
	guardians guardianStore,
	rateCards rateCardStore,
	eligibility eligibilityCollector,
	mail mailer.Sender,
	audit auditLogger,
	metrics *MetricsService,
	cache runCache,
	cfg config.ContinuationConfig,
	email config.EmailConfig,
	logger *zap.Logger,
) *ContinuationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunListCacheTTL <= 0 {
		cfg.RunListCacheTTL = 30 * time.Second
	}
	return &ContinuationService{
		repo:        repo,
		terms:       terms,
		guardians:   guardians,
		rateCards:   rateCards,
		eligibility: eligibility,
		mail:        mail,
		audit:       audit,
		metrics:     metrics,
		cache:       cache,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
		cfg:         cfg,
		email:       email,
		now:         time.Now,
	}
}

// CreateRun builds a draft continuation run for a term pair: collects eligible
// students, snapshots their schedule and projected fees for the next term, and
// creates one pending response row per student.
func (s *ContinuationService) CreateRun(ctx context.Context, req dto.ActionRequest, actor *models.JWTClaims) (*dto.CreateRunResult, error) {
	if req.CurrentTermID == "" || req.NextTermID == "" || req.NoticeDeadline == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "current_term_id, next_term_id and notice_deadline are required")
	}
	deadline, err := time.Parse("2006-01-02", req.NoticeDeadline)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notice_deadline must be a YYYY-MM-DD date")
	}

	current, err := s.terms.FindByID(ctx, req.OrgID, req.CurrentTermID)
	if err != nil {
		return nil, termLookupError(err, "current term")
	}
	next, err := s.terms.FindByID(ctx, req.OrgID, req.NextTermID)
	if err != nil {
		return nil, termLookupError(err, "next term")
	}
	if !next.StartDate.After(current.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "next term must start after the current term ends")
	}

	existing, err := s.repo.FindActiveRunByTermPair(ctx, req.OrgID, req.CurrentTermID, req.NextTermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for existing run")
	}
	if existing != nil {
		return nil, appErrors.ErrDuplicateRun
	}

	eligible, err := s.eligibility.Collect(ctx, req.OrgID, current)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect eligible students")
	}
	if len(eligible) == 0 {
		return nil, appErrors.ErrNoEligibleStudents
	}

	studentIDs := make([]string, 0, len(eligible))
	for id := range eligible {
		studentIDs = append(studentIDs, id)
	}
	sort.Strings(studentIDs)

	payers, err := s.guardians.PrimaryPayerByStudentIDs(ctx, req.OrgID, studentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve payer guardians")
	}
	cards, err := s.rateCards.ListByOrg(ctx, req.OrgID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rate cards")
	}
	cardsByID := make(map[string]models.RateCard, len(cards))
	for _, card := range cards {
		cardsByID[card.ID] = card
	}
	closures, err := s.terms.ListClosureDates(ctx, req.OrgID, next.StartDate, next.EndDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load closure dates")
	}

	assumed := true
	if req.AssumedContinuing != nil {
		assumed = *req.AssumedContinuing
	}
	schedule := req.ReminderSchedule
	if len(schedule) == 0 {
		schedule = s.cfg.DefaultReminderSchedule
	}

	run := &models.ContinuationRun{
		OrgID:             req.OrgID,
		CurrentTermID:     req.CurrentTermID,
		NextTermID:        req.NextTermID,
		NoticeDeadline:    deadline,
		AssumedContinuing: assumed,
		ReminderSchedule:  intsToInt64s(schedule),
		Status:            models.RunStatusDraft,
		CreatedBy:         actor.UserID,
	}

	var (
		responses []*models.ContinuationResponse
		preview   []dto.PreviewEntry
		skipped   []dto.SkippedStudent
	)
	for _, studentID := range studentIDs {
		student := eligible[studentID]

		guardian, ok := payers[studentID]
		if !ok {
			skipped = append(skipped, dto.SkippedStudent{StudentID: studentID, Reason: "no primary payer guardian"})
			continue
		}

		lessons, termFee, lessonCount := s.buildLessonSummary(student, next, closures, cards, cardsByID)
		if len(lessons) == 0 {
			skipped = append(skipped, dto.SkippedStudent{StudentID: studentID, Reason: "no projectable lessons in the next term"})
			continue
		}

		token, err := generateResponseToken()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate response token")
		}

		responses = append(responses, &models.ContinuationResponse{
			OrgID:            req.OrgID,
			StudentID:        studentID,
			GuardianID:       guardian.ID,
			LessonSummary:    lessons,
			NextTermFeeCents: termFee,
			Response:         models.ResponsePending,
			ResponseToken:    token,
		})

		entry := dto.PreviewEntry{
			StudentID:        studentID,
			StudentName:      student.StudentName,
			GuardianName:     guardian.FullName,
			HasEmail:         guardian.Email != nil && strings.TrimSpace(*guardian.Email) != "",
			LessonCount:      lessonCount,
			NextTermFeeCents: termFee,
		}
		if entry.HasEmail {
			entry.GuardianEmail = *guardian.Email
		}
		preview = append(preview, entry)
	}

	if len(responses) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoEligibleStudents, "every eligible student was skipped, nothing to send")
	}

	if err := s.repo.CreateRunWithResponses(ctx, run, responses); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create continuation run")
	}

	summary, err := s.RecalculateSummary(ctx, run.ID)
	if err != nil {
		s.logger.Warn("summary recalculation failed after run create", zap.String("run_id", run.ID), zap.Error(err))
		summary = models.ContinuationSummary{TotalStudents: len(responses), Pending: len(responses)}
	}

	s.emitAudit(ctx, run.OrgID, actor, models.AuditActionContinuationBuild, run.ID, map[string]interface{}{
		"total_students": len(responses),
		"skipped":        len(skipped),
	})
	s.metrics.RecordRunCreated()
	s.logger.Info("continuation run created",
		zap.String("run_id", run.ID),
		zap.String("org_id", run.OrgID),
		zap.Int("students", len(responses)),
		zap.Int("skipped", len(skipped)),
	)

	return &dto.CreateRunResult{
		RunID:         run.ID,
		TotalStudents: len(responses),
		Summary:       summary,
		Preview:       preview,
		Skipped:       skipped,
	}, nil
}

// buildLessonSummary projects one student's standing lessons into the next
// term, pricing each recurrence and counting its dates net of closures.
func (s *ContinuationService) buildLessonSummary(
	student *EligibleStudent,
	next *models.Term,
	closures []time.Time,
	cards []models.RateCard,
	cardsByID map[string]models.RateCard,
) (models.LessonSummaryList, int, int) {
	var entries models.LessonSummaryList
	termFee := 0
	lessonCount := 0

	for _, rec := range student.Recurrences {
		if len(rec.Lessons) == 0 {
			continue
		}
		first := rec.Lessons[0]
		duration := int(first.EndsAt.Sub(first.StartsAt).Minutes())
		if duration <= 0 {
			continue
		}

		days := rec.DaysOfWeek
		if len(days) == 0 {
			days = []int{int(first.StartsAt.Weekday())}
		}

		count := 0
		for _, day := range days {
			dates := WeeklyDates(next.StartDate, next.EndDate, time.Weekday(day))
			count += len(SubtractClosures(dates, closures))
		}
		if count == 0 {
			continue
		}

		fee := 0
		if student.DefaultRateCardID != nil {
			if card, ok := cardsByID[*student.DefaultRateCardID]; ok {
				fee = card.AmountCents
			}
		}
		if fee == 0 {
			fee = ResolveLessonFee(duration, cards, s.cfg.FallbackLessonFeeCents)
		}

		entries = append(entries, models.LessonSummaryEntry{
			Day:             dayNames(days),
			StartTime:       rec.StartTime,
			TeacherName:     rec.TeacherName,
			Instrument:      rec.Instrument,
			DurationMinutes: duration,
			LessonFeeCents:  fee,
			LessonCount:     count,
		})
		termFee += fee * count
		lessonCount += count
	}
	return entries, termFee, lessonCount
}

// SendRun dispatches the initial continuation email to every guardian with
// pending responses, then moves the run to sent. Individual delivery failures
// are reported, not fatal; the run transitions regardless so staff can retry
// failed guardians through reminders.
func (s *ContinuationService) SendRun(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.SendResult, error) {
	run, err := s.loadRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	if !models.ActionAllowed(models.RunActionSend, run.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot send a run in status %q", run.Status))
	}

	next, err := s.terms.FindByID(ctx, orgID, run.NextTermID)
	if err != nil {
		return nil, termLookupError(err, "next term")
	}
	pending, err := s.repo.ListPendingResponseDetails(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending responses")
	}

	outcome, err := s.dispatch(ctx, run, next, pending, models.MessageKindInitial)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.repo.UpdateRunStatus(ctx, repository.UpdateRunStatusParams{RunID: run.ID, Status: models.RunStatusSent, SentAt: &now}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark run as sent")
	}

	if _, err := s.RecalculateSummary(ctx, run.ID); err != nil {
		s.logger.Warn("summary recalculation failed after send", zap.String("run_id", run.ID), zap.Error(err))
	}

	s.emitAudit(ctx, run.OrgID, actor, models.AuditActionContinuationSend, run.ID, map[string]interface{}{
		"sent_count": outcome.guardiansSent,
		"failed":     len(outcome.failed),
	})
	s.logger.Info("continuation run sent",
		zap.String("run_id", run.ID),
		zap.Int("guardians", outcome.guardiansSent),
		zap.Int("failed", len(outcome.failed)),
	)

	return &dto.SendResult{SentCount: outcome.guardiansSent, Failed: outcome.failed}, nil
}

// SendReminders emails guardians who still have pending responses and moves
// the run to reminding. Reminder pacing against the run's schedule is the
// caller's concern; the service sends to whoever remains pending.
func (s *ContinuationService) SendReminders(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.RemindResult, error) {
	run, err := s.loadRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	if !models.ActionAllowed(models.RunActionSendReminders, run.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot send reminders for a run in status %q", run.Status))
	}

	next, err := s.terms.FindByID(ctx, orgID, run.NextTermID)
	if err != nil {
		return nil, termLookupError(err, "next term")
	}
	pending, err := s.repo.ListPendingResponseDetails(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending responses")
	}

	outcome, err := s.dispatch(ctx, run, next, pending, models.MessageKindReminder)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusReminding {
		if err := s.repo.UpdateRunStatus(ctx, repository.UpdateRunStatusParams{RunID: run.ID, Status: models.RunStatusReminding}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark run as reminding")
		}
	}

	if _, err := s.RecalculateSummary(ctx, run.ID); err != nil {
		s.logger.Warn("summary recalculation failed after reminders", zap.String("run_id", run.ID), zap.Error(err))
	}

	s.emitAudit(ctx, run.OrgID, actor, models.AuditActionContinuationNudge, run.ID, map[string]interface{}{
		"reminded_count": outcome.guardiansSent,
		"failed":         len(outcome.failed),
	})

	return &dto.RemindResult{RemindedCount: outcome.guardiansSent, Failed: outcome.failed}, nil
}

type dispatchOutcome struct {
	guardiansSent int
	failed        []dto.GuardianFailure
}

// dispatch groups pending responses by guardian and sends one consolidated
// email per guardian. Every attempt is logged to the message table before
// delivery; response rows are stamped only after a successful send.
func (s *ContinuationService) dispatch(
	ctx context.Context,
	run *models.ContinuationRun,
	next *models.Term,
	pending []models.ResponseDetail,
	kind models.MessageKind,
) (dispatchOutcome, error) {
	byGuardian := make(map[string][]models.ResponseDetail)
	var order []string
	for _, detail := range pending {
		if _, ok := byGuardian[detail.GuardianID]; !ok {
			order = append(order, detail.GuardianID)
		}
		byGuardian[detail.GuardianID] = append(byGuardian[detail.GuardianID], detail)
	}

	guardians, err := s.guardians.ListByIDs(ctx, run.OrgID, order)
	if err != nil {
		return dispatchOutcome{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian contacts")
	}

	var outcome dispatchOutcome
	for _, guardianID := range order {
		details := byGuardian[guardianID]
		guardian, ok := guardians[guardianID]
		if !ok || guardian.Email == nil || strings.TrimSpace(*guardian.Email) == "" {
			name := ""
			if ok {
				name = guardian.FullName
			}
			outcome.failed = append(outcome.failed, dto.GuardianFailure{
				GuardianID:   guardianID,
				GuardianName: name,
				Reason:       "no email address on file",
			})
			s.logSkippedMessage(ctx, run, guardianID, kind, len(details))
			continue
		}

		subject, body, err := renderGuardianEmail(kind, s.buildEmailData(guardian, next, run, details))
		if err != nil {
			s.logger.Error("email render failed", zap.String("run_id", run.ID), zap.String("guardian_id", guardianID), zap.Error(err))
			outcome.failed = append(outcome.failed, dto.GuardianFailure{
				GuardianID:   guardianID,
				GuardianName: guardian.FullName,
				Reason:       "failed to render email",
			})
			continue
		}

		msg := &models.ContinuationMessage{
			RunID:          run.ID,
			OrgID:          run.OrgID,
			GuardianID:     guardianID,
			Kind:           kind,
			RecipientEmail: *guardian.Email,
			StudentCount:   len(details),
			Status:         models.MessageStatusPending,
		}
		if err := s.repo.InsertMessage(ctx, msg); err != nil {
			s.logger.Warn("message log insert failed", zap.String("run_id", run.ID), zap.Error(err))
		}

		_, sendErr := s.mail.Send(ctx, mailer.Message{
			To:      []string{*guardian.Email},
			Subject: subject,
			HTML:    body,
			ReplyTo: s.email.ReplyTo,
		})
		if sendErr != nil {
			detail := sendErr.Error()
			s.markMessage(ctx, msg.ID, models.MessageStatusFailed, &detail)
			s.metrics.RecordContinuationEmail(kind, false)
			outcome.failed = append(outcome.failed, dto.GuardianFailure{
				GuardianID:   guardianID,
				GuardianName: guardian.FullName,
				Reason:       "delivery failed",
			})
			s.logger.Warn("continuation email delivery failed",
				zap.String("run_id", run.ID),
				zap.String("guardian_id", guardianID),
				zap.Error(sendErr),
			)
			continue
		}
		s.markMessage(ctx, msg.ID, models.MessageStatusSent, nil)
		s.metrics.RecordContinuationEmail(kind, true)

		ids := make([]string, 0, len(details))
		for _, d := range details {
			ids = append(ids, d.ID)
		}
		var stampErr error
		if kind == models.MessageKindInitial {
			stampErr = s.repo.StampInitialSent(ctx, ids, s.now().UTC())
		} else {
			stampErr = s.repo.IncrementReminders(ctx, ids, s.now().UTC())
		}
		if stampErr != nil {
			s.logger.Warn("response stamp failed", zap.String("run_id", run.ID), zap.String("guardian_id", guardianID), zap.Error(stampErr))
		}
		outcome.guardiansSent++
	}
	return outcome, nil
}

func (s *ContinuationService) buildEmailData(guardian models.Guardian, next *models.Term, run *models.ContinuationRun, details []models.ResponseDetail) guardianEmailData {
	data := guardianEmailData{
		GuardianName: guardian.FullName,
		NextTermName: next.Name,
		Deadline:     run.NoticeDeadline,
	}
	for _, detail := range details {
		data.Children = append(data.Children, emailChild{
			StudentName:  detail.StudentName,
			Lessons:      detail.LessonSummary,
			TermFeeCents: detail.NextTermFeeCents,
			ContinueURL:  fmt.Sprintf("%s/respond/%s?action=continue", s.email.PortalBaseURL, detail.ResponseToken),
			WithdrawURL:  fmt.Sprintf("%s/respond/%s?action=withdraw", s.email.PortalBaseURL, detail.ResponseToken),
		})
	}
	return data
}

func (s *ContinuationService) logSkippedMessage(ctx context.Context, run *models.ContinuationRun, guardianID string, kind models.MessageKind, studentCount int) {
	reason := "no email address on file"
	msg := &models.ContinuationMessage{
		RunID:        run.ID,
		OrgID:        run.OrgID,
		GuardianID:   guardianID,
		Kind:         kind,
		StudentCount: studentCount,
		Status:       models.MessageStatusFailed,
		ErrorDetail:  &reason,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		s.logger.Warn("message log insert failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *ContinuationService) markMessage(ctx context.Context, messageID, status string, detail *string) {
	if messageID == "" {
		return
	}
	if err := s.repo.MarkMessageResult(ctx, messageID, status, detail); err != nil {
		s.logger.Warn("message log update failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

// ProcessDeadline resolves every still-pending response according to the
// run's policy and moves the run to deadline_passed.
func (s *ContinuationService) ProcessDeadline(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.DeadlineResult, error) {
	run, err := s.loadRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	if !models.ActionAllowed(models.RunActionProcessDeadline, run.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot process the deadline for a run in status %q", run.Status))
	}

	policy := models.ResponseNoResponse
	if run.AssumedContinuing {
		policy = models.ResponseAssumedContinuing
	}

	now := s.now().UTC()
	resolved, err := s.repo.ResolvePending(ctx, run.ID, policy, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve pending responses")
	}
	if err := s.repo.UpdateRunStatus(ctx, repository.UpdateRunStatusParams{RunID: run.ID, Status: models.RunStatusDeadlinePassed, DeadlinePassedAt: &now}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark deadline as passed")
	}

	summary, err := s.RecalculateSummary(ctx, run.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recalculate summary")
	}

	s.emitAudit(ctx, run.OrgID, actor, models.AuditActionContinuationClose, run.ID, map[string]interface{}{
		"resolved": resolved,
		"policy":   policy,
	})
	s.logger.Info("continuation deadline processed",
		zap.String("run_id", run.ID),
		zap.Int64("resolved", resolved),
		zap.String("policy", string(policy)),
	)

	return &dto.DeadlineResult{Summary: summary, Resolved: int(resolved), Policy: policy}, nil
}

// CompleteRun closes out a run whose deadline has passed.
func (s *ContinuationService) CompleteRun(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*models.ContinuationRun, error) {
	run, err := s.loadRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	if !models.ActionAllowed(models.RunActionComplete, run.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot complete a run in status %q", run.Status))
	}
	if err := s.repo.UpdateRunStatus(ctx, repository.UpdateRunStatusParams{RunID: run.ID, Status: models.RunStatusCompleted}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete run")
	}
	run.Status = models.RunStatusCompleted
	s.invalidateRunListCache(ctx)

	s.emitAudit(ctx, run.OrgID, actor, models.AuditActionContinuationDone, run.ID, nil)
	return run, nil
}

// GetRun returns a run with its response rows for the staff detail view.
func (s *ContinuationService) GetRun(ctx context.Context, orgID, runID string) (*dto.RunDetail, error) {
	run, err := s.loadRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	responses, err := s.repo.ListResponsesByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load responses")
	}
	return &dto.RunDetail{Run: *run, Responses: responses}, nil
}

// ListRuns returns every run for the organisation, newest first. Results are
// cached briefly; any summary change or status transition clears the cache.
func (s *ContinuationService) ListRuns(ctx context.Context, orgID string) ([]models.ContinuationRun, error) {
	key := runListCacheKey(orgID)
	if s.cache != nil {
		var cached []models.ContinuationRun
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("run list cache read failed", zap.String("org_id", orgID), zap.Error(err))
		}
	}

	start := time.Now()
	runs, err := s.repo.ListRunsByOrg(ctx, orgID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list runs")
	}
	s.metrics.ObserveDBQuery("continuation_runs_list", time.Since(start))

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, runs, s.cfg.RunListCacheTTL); err != nil {
			s.logger.Warn("run list cache write failed", zap.String("org_id", orgID), zap.Error(err))
		}
	}
	return runs, nil
}

// ExportRun renders the run's response rows as a CSV or PDF download.
func (s *ContinuationService) ExportRun(ctx context.Context, orgID, runID, format string) ([]byte, string, string, error) {
	run, err := s.loadRun(ctx, orgID, runID)
	if err != nil {
		return nil, "", "", err
	}
	details, err := s.repo.ListResponseDetailsByRun(ctx, runID)
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load responses")
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Response", "Method", "Responded At", "Reminders", "Next Term Fee"},
	}
	for _, d := range details {
		method := ""
		if d.ResponseMethod != nil {
			method = string(*d.ResponseMethod)
		}
		respondedAt := ""
		if d.ResponseAt != nil {
			respondedAt = d.ResponseAt.UTC().Format("2006-01-02 15:04")
		}
		dataset.Rows = append(dataset.Rows, []string{
			d.StudentName,
			string(d.Response),
			method,
			respondedAt,
			fmt.Sprintf("%d", d.ReminderCount),
			formatCents(d.NextTermFeeCents),
		})
	}

	switch strings.ToLower(format) {
	case "", "csv":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render CSV export")
		}
		return data, fmt.Sprintf("continuation-run-%s.csv", run.ID), "text/csv", nil
	case "pdf":
		data, err := s.pdf.Render(dataset, "Continuation run summary")
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render PDF export")
		}
		return data, fmt.Sprintf("continuation-run-%s.pdf", run.ID), "application/pdf", nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format, use csv or pdf")
	}
}

// RecalculateSummary recounts response rows and persists the derived summary.
// The summary is always rebuilt from the rows, never incremented in place.
func (s *ContinuationService) RecalculateSummary(ctx context.Context, runID string) (models.ContinuationSummary, error) {
	summary, err := s.repo.CountResponses(ctx, runID)
	if err != nil {
		return models.ContinuationSummary{}, fmt.Errorf("count responses: %w", err)
	}
	if err := s.repo.SaveRunSummary(ctx, runID, summary); err != nil {
		return models.ContinuationSummary{}, fmt.Errorf("save summary: %w", err)
	}
	s.invalidateRunListCache(ctx)
	return summary, nil
}

func (s *ContinuationService) invalidateRunListCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, runListCachePattern); err != nil {
		s.logger.Warn("run list cache invalidation failed", zap.Error(err))
	}
}

func (s *ContinuationService) loadRun(ctx context.Context, orgID, runID string) (*models.ContinuationRun, error) {
	run, err := s.repo.FindRunByID(ctx, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "continuation run not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load run")
	}
	if run.OrgID != orgID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "continuation run not found")
	}
	return run, nil
}

func (s *ContinuationService) emitAudit(ctx context.Context, orgID string, actor *models.JWTClaims, action, runID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		OrgID:      orgID,
		Action:     action,
		Resource:   "continuation_run",
		ResourceID: &runID,
	}
	if actor != nil {
		userID := actor.UserID
		log.UserID = &userID
	}
	if values != nil {
		if payload, err := json.Marshal(values); err == nil {
			log.NewValues = payload
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func termLookupError(err error, label string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, label+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+label)
}

// generateResponseToken returns a URL-safe opaque token for email links.
func generateResponseToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func intsToInt64s(values []int) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func dayNames(days []int) string {
	names := make([]string, 0, len(days))
	for _, day := range days {
		names = append(names, time.Weekday(day%7).String())
	}
	return strings.Join(names, "/")
}
