package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ContinuationRunStatus is the closed status set for a continuation run.
type ContinuationRunStatus string

const (
	RunStatusDraft          ContinuationRunStatus = "draft"
	RunStatusSent           ContinuationRunStatus = "sent"
	RunStatusReminding      ContinuationRunStatus = "reminding"
	RunStatusDeadlinePassed ContinuationRunStatus = "deadline_passed"
	RunStatusCompleted      ContinuationRunStatus = "completed"
)

// RunAction identifies a staff action on a run.
type RunAction string

const (
	RunActionCreate          RunAction = "create"
	RunActionSend            RunAction = "send"
	RunActionSendReminders   RunAction = "send_reminders"
	RunActionProcessDeadline RunAction = "process_deadline"
	RunActionComplete        RunAction = "complete"
)

// runActionSources lists the statuses from which each action may be applied.
var runActionSources = map[RunAction][]ContinuationRunStatus{
	RunActionSend:            {RunStatusDraft},
	RunActionSendReminders:   {RunStatusSent, RunStatusReminding},
	RunActionProcessDeadline: {RunStatusSent, RunStatusReminding},
	RunActionComplete:        {RunStatusDeadlinePassed},
}

// ActionAllowed reports whether the action may be applied to a run in the given status.
func ActionAllowed(action RunAction, from ContinuationRunStatus) bool {
	for _, status := range runActionSources[action] {
		if status == from {
			return true
		}
	}
	return false
}

// RunAcceptsResponses reports whether participant submissions are still taken.
func RunAcceptsResponses(status ContinuationRunStatus) bool {
	return status == RunStatusSent || status == RunStatusReminding
}

// ResponseValue is a participant's continuation decision.
type ResponseValue string

const (
	ResponsePending           ResponseValue = "pending"
	ResponseContinuing        ResponseValue = "continuing"
	ResponseWithdrawing       ResponseValue = "withdrawing"
	ResponseAssumedContinuing ResponseValue = "assumed_continuing"
	ResponseNoResponse        ResponseValue = "no_response"
)

// IsTerminal reports whether the value can no longer change.
func (v ResponseValue) IsTerminal() bool {
	return v != "" && v != ResponsePending
}

// ResponseMethod records how a decision reached the system.
type ResponseMethod string

const (
	MethodEmailLink    ResponseMethod = "email_link"
	MethodPortal       ResponseMethod = "portal"
	MethodAutoDeadline ResponseMethod = "auto_deadline"
)

// ContinuationSummary aggregates a run's response rows. Always recomputed by
// counting rows, never incremented in place.
type ContinuationSummary struct {
	TotalStudents     int `json:"total_students"`
	Confirmed         int `json:"confirmed"`
	Withdrawing       int `json:"withdrawing"`
	Pending           int `json:"pending"`
	NoResponse        int `json:"no_response"`
	AssumedContinuing int `json:"assumed_continuing"`
}

// Value implements driver.Valuer so the summary persists as JSONB.
func (s ContinuationSummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *ContinuationSummary) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = ContinuationSummary{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported summary type %T", src)
	}
}

// ContinuationRun is one end-of-term continuation campaign for an organisation.
type ContinuationRun struct {
	ID                string                `db:"id" json:"id"`
	OrgID             string                `db:"org_id" json:"org_id"`
	CurrentTermID     string                `db:"current_term_id" json:"current_term_id"`
	NextTermID        string                `db:"next_term_id" json:"next_term_id"`
	NoticeDeadline    time.Time             `db:"notice_deadline" json:"notice_deadline"`
	AssumedContinuing bool                  `db:"assumed_continuing" json:"assumed_continuing"`
	ReminderSchedule  pq.Int64Array         `db:"reminder_schedule" json:"reminder_schedule"`
	Status            ContinuationRunStatus `db:"status" json:"status"`
	Summary           ContinuationSummary   `db:"summary" json:"summary"`
	SentAt            *time.Time            `db:"sent_at" json:"sent_at,omitempty"`
	DeadlinePassedAt  *time.Time            `db:"deadline_passed_at" json:"deadline_passed_at,omitempty"`
	CreatedBy         string                `db:"created_by" json:"created_by"`
	CreatedAt         time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time             `db:"updated_at" json:"updated_at"`
}

// LessonSummaryEntry describes one recurring slot inside a response's snapshot.
type LessonSummaryEntry struct {
	Day             string `json:"day"`
	StartTime       string `json:"start_time"`
	TeacherName     string `json:"teacher_name"`
	Instrument      string `json:"instrument"`
	DurationMinutes int    `json:"duration_minutes"`
	LessonFeeCents  int    `json:"lesson_fee_cents"`
	LessonCount     int    `json:"lesson_count"`
}

// LessonSummaryList persists as a JSONB array on the response row.
type LessonSummaryList []LessonSummaryEntry

// Value implements driver.Valuer.
func (l LessonSummaryList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]LessonSummaryEntry{})
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *LessonSummaryList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported lesson summary type %T", src)
	}
}

// ContinuationResponse is one student's decision row within a run. Exactly one
// row exists per (run, student); the response value transitions pending -> terminal
// exactly once.
type ContinuationResponse struct {
	ID               string            `db:"id" json:"id"`
	RunID            string            `db:"run_id" json:"run_id"`
	OrgID            string            `db:"org_id" json:"org_id"`
	StudentID        string            `db:"student_id" json:"student_id"`
	GuardianID       string            `db:"guardian_id" json:"guardian_id"`
	LessonSummary    LessonSummaryList `db:"lesson_summary" json:"lesson_summary"`
	NextTermFeeCents int               `db:"next_term_fee_cents" json:"next_term_fee_cents"`
	Response         ResponseValue     `db:"response" json:"response"`
	ResponseAt       *time.Time        `db:"response_at" json:"response_at,omitempty"`
	ResponseMethod   *ResponseMethod   `db:"response_method" json:"response_method,omitempty"`
	ResponseToken    string            `db:"response_token" json:"-"`
	WithdrawalReason *string           `db:"withdrawal_reason" json:"withdrawal_reason,omitempty"`
	WithdrawalNotes  *string           `db:"withdrawal_notes" json:"withdrawal_notes,omitempty"`
	InitialSentAt    *time.Time        `db:"initial_sent_at" json:"initial_sent_at,omitempty"`
	ReminderCount    int               `db:"reminder_count" json:"reminder_count"`
	Reminder1SentAt  *time.Time        `db:"reminder_1_sent_at" json:"reminder_1_sent_at,omitempty"`
	Reminder2SentAt  *time.Time        `db:"reminder_2_sent_at" json:"reminder_2_sent_at,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// ResponseDetail joins a response row with its display context.
type ResponseDetail struct {
	ContinuationResponse
	StudentName  string                `db:"student_name"`
	RunStatus    ContinuationRunStatus `db:"run_status"`
	NextTermID   string                `db:"next_term_id"`
	NextTermName string                `db:"next_term_name"`
}

// MessageKind distinguishes initial sends from reminders in the message log.
type MessageKind string

const (
	MessageKindInitial  MessageKind = "initial"
	MessageKindReminder MessageKind = "reminder"
)

// ContinuationMessage logs one outbound email to a guardian.
type ContinuationMessage struct {
	ID             string      `db:"id" json:"id"`
	RunID          string      `db:"run_id" json:"run_id"`
	OrgID          string      `db:"org_id" json:"org_id"`
	GuardianID     string      `db:"guardian_id" json:"guardian_id"`
	Kind           MessageKind `db:"kind" json:"kind"`
	RecipientEmail string      `db:"recipient_email" json:"recipient_email"`
	StudentCount   int         `db:"student_count" json:"student_count"`
	Status         string      `db:"status" json:"status"`
	ErrorDetail    *string     `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}

// Message log statuses.
const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)
