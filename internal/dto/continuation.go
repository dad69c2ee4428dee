package dto

import "github.com/clefworks/msm-api/internal/models"

// ActionRequest is the single staff entry point, dispatched on Action.
type ActionRequest struct {
	Action string `json:"action" validate:"required,oneof=create send send_reminders process_deadline complete"`
	OrgID  string `json:"org_id" validate:"required"`

	// create fields
	CurrentTermID     string `json:"current_term_id,omitempty"`
	NextTermID        string `json:"next_term_id,omitempty"`
	NoticeDeadline    string `json:"notice_deadline,omitempty"`
	AssumedContinuing *bool  `json:"assumed_continuing,omitempty"`
	ReminderSchedule  []int  `json:"reminder_schedule,omitempty"`

	// send / send_reminders / process_deadline / complete fields
	RunID string `json:"run_id,omitempty"`
}

// PreviewEntry summarises one student for staff review before sending.
type PreviewEntry struct {
	StudentID        string `json:"student_id"`
	StudentName      string `json:"student_name"`
	GuardianName     string `json:"guardian_name"`
	GuardianEmail    string `json:"guardian_email,omitempty"`
	HasEmail         bool   `json:"has_email"`
	LessonCount      int    `json:"lesson_count"`
	NextTermFeeCents int    `json:"next_term_fee_cents"`
}

// SkippedStudent records why a student was excluded from a run build.
type SkippedStudent struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

// CreateRunResult is the payload returned by the create action.
type CreateRunResult struct {
	RunID         string                     `json:"run_id"`
	TotalStudents int                        `json:"total_students"`
	Summary       models.ContinuationSummary `json:"summary"`
	Preview       []PreviewEntry             `json:"preview"`
	Skipped       []SkippedStudent           `json:"skipped,omitempty"`
}

// GuardianFailure reports a guardian whose email could not be delivered.
type GuardianFailure struct {
	GuardianID   string `json:"guardian_id"`
	GuardianName string `json:"guardian_name"`
	Reason       string `json:"reason"`
}

// SendResult is the payload returned by the send action.
type SendResult struct {
	SentCount int               `json:"sent_count"`
	Failed    []GuardianFailure `json:"failed,omitempty"`
}

// RemindResult is the payload returned by the send_reminders action.
type RemindResult struct {
	RemindedCount int               `json:"reminded_count"`
	Failed        []GuardianFailure `json:"failed,omitempty"`
}

// DeadlineResult is the payload returned by the process_deadline action.
type DeadlineResult struct {
	Summary  models.ContinuationSummary `json:"summary"`
	Resolved int                        `json:"resolved"`
	Policy   models.ResponseValue       `json:"policy"`
}

// RunDetail couples a run with its response rows for the staff detail view.
type RunDetail struct {
	Run       models.ContinuationRun        `json:"run"`
	Responses []models.ContinuationResponse `json:"responses"`
}

// TokenSubmitRequest is the unauthenticated response submission.
type TokenSubmitRequest struct {
	Token            string `json:"token" validate:"required"`
	Response         string `json:"response" validate:"required,oneof=continuing withdrawing"`
	WithdrawalReason string `json:"withdrawal_reason,omitempty"`
	WithdrawalNotes  string `json:"withdrawal_notes,omitempty"`
}

// PortalSubmitRequest is the authenticated guardian submission.
type PortalSubmitRequest struct {
	RunID            string `json:"run_id" validate:"required"`
	StudentID        string `json:"student_id" validate:"required"`
	Response         string `json:"response" validate:"required,oneof=continuing withdrawing"`
	WithdrawalReason string `json:"withdrawal_reason,omitempty"`
	WithdrawalNotes  string `json:"withdrawal_notes,omitempty"`
}

// SubmitResult is returned to participants from both intake paths.
type SubmitResult struct {
	Success          bool                 `json:"success,omitempty"`
	AlreadyResponded bool                 `json:"already_responded,omitempty"`
	Response         models.ResponseValue `json:"response,omitempty"`
	CurrentResponse  models.ResponseValue `json:"current_response,omitempty"`
	StudentName      string               `json:"student_name,omitempty"`
	NextTermName     string               `json:"next_term_name,omitempty"`
	Message          string               `json:"message,omitempty"`
}

// RespondPreview backs the unauthenticated response page.
type RespondPreview struct {
	StudentName      string                   `json:"student_name"`
	NextTermName     string                   `json:"next_term_name"`
	NextTermFeeCents int                      `json:"next_term_fee_cents"`
	LessonSummary    models.LessonSummaryList `json:"lesson_summary"`
	Open             bool                     `json:"open"`
	CurrentResponse  models.ResponseValue     `json:"current_response"`
}
