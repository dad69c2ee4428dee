package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clefworks/msm-api/internal/models"
)

// EligibleLesson is one surviving lesson occurrence inside a recurrence group.
type EligibleLesson struct {
	StartsAt time.Time
	EndsAt   time.Time
}

// EligibleRecurrence groups a student's current-term lessons under one
// standing weekly commitment.
type EligibleRecurrence struct {
	RecurrenceID string
	DaysOfWeek   []int
	StartTime    string
	TeacherName  string
	Instrument   string
	Lessons      []EligibleLesson
}

// EligibleStudent is a student with at least one eligible recurrence group.
type EligibleStudent struct {
	StudentID         string
	StudentName       string
	DefaultRateCardID *string
	Recurrences       []*EligibleRecurrence
}

type eligibilityLessonStore interface {
	ListRecurringLessonRows(ctx context.Context, orgID string, start, end time.Time) ([]models.RecurringLessonRow, error)
	ListLessonsInRange(ctx context.Context, orgID string, start, end time.Time) ([]models.Lesson, error)
	ListRecurrenceRules(ctx context.Context, orgID string, ids []string) ([]models.RecurrenceRule, error)
	ListTeacherNames(ctx context.Context, orgID string, ids []string) (map[string]string, error)
}

type eligibilityStudentStore interface {
	ListByIDs(ctx context.Context, orgID string, ids []string) ([]models.Student, error)
}

// EligibilityService discovers students with standing weekly lessons inside a
// term. One-off bookings are excluded; continuation only concerns recurring
// commitments.
type EligibilityService struct {
	lessons  eligibilityLessonStore
	students eligibilityStudentStore
	logger   *zap.Logger
}

// NewEligibilityService constructs the collector.
func NewEligibilityService(lessons eligibilityLessonStore, students eligibilityStudentStore, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{lessons: lessons, students: students, logger: logger}
}

// Collect groups eligible lessons by (student, recurrence). It first attempts
// the single joined query; if the data layer rejects it, an equivalent
// grouping is rebuilt from a sequence of narrower queries. An empty result is
// not an error; the run builder decides what "empty" means to the caller.
func (s *EligibilityService) Collect(ctx context.Context, orgID string, term *models.Term) (map[string]*EligibleStudent, error) {
	grouped, err := s.collectJoined(ctx, orgID, term)
	if err == nil {
		return grouped, nil
	}

	s.logger.Warn("joined eligibility query failed, using narrow fallback",
		zap.String("org_id", orgID),
		zap.String("term_id", term.ID),
		zap.Error(err),
	)
	return s.collectNarrow(ctx, orgID, term)
}

func (s *EligibilityService) collectJoined(ctx context.Context, orgID string, term *models.Term) (map[string]*EligibleStudent, error) {
	rows, err := s.lessons.ListRecurringLessonRows(ctx, orgID, term.StartDate, term.EndDate)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]*EligibleStudent)
	for _, row := range rows {
		if row.StudentStatus != models.StudentActive {
			continue
		}
		student, ok := grouped[row.StudentID]
		if !ok {
			student = &EligibleStudent{
				StudentID:         row.StudentID,
				StudentName:       row.StudentName,
				DefaultRateCardID: row.DefaultRateCard,
			}
			grouped[row.StudentID] = student
		}

		recurrence := findRecurrence(student, row.RecurrenceID)
		if recurrence == nil {
			recurrence = &EligibleRecurrence{
				RecurrenceID: row.RecurrenceID,
				DaysOfWeek:   int64sToInts(row.DaysOfWeek),
				StartTime:    row.StartTime,
			}
			if row.TeacherName != nil {
				recurrence.TeacherName = *row.TeacherName
			}
			if row.Instrument != nil {
				recurrence.Instrument = *row.Instrument
			}
			student.Recurrences = append(student.Recurrences, recurrence)
		}
		recurrence.Lessons = append(recurrence.Lessons, EligibleLesson{StartsAt: row.StartsAt, EndsAt: row.EndsAt})
	}
	return grouped, nil
}

func (s *EligibilityService) collectNarrow(ctx context.Context, orgID string, term *models.Term) (map[string]*EligibleStudent, error) {
	lessons, err := s.lessons.ListLessonsInRange(ctx, orgID, term.StartDate, term.EndDate)
	if err != nil {
		return nil, err
	}
	if len(lessons) == 0 {
		return map[string]*EligibleStudent{}, nil
	}

	studentIDs := make([]string, 0, len(lessons))
	recurrenceIDs := make([]string, 0, len(lessons))
	teacherIDs := make([]string, 0, len(lessons))
	seenStudent := map[string]bool{}
	seenRecurrence := map[string]bool{}
	seenTeacher := map[string]bool{}
	for _, lesson := range lessons {
		if !seenStudent[lesson.StudentID] {
			seenStudent[lesson.StudentID] = true
			studentIDs = append(studentIDs, lesson.StudentID)
		}
		if lesson.RecurrenceID != nil && !seenRecurrence[*lesson.RecurrenceID] {
			seenRecurrence[*lesson.RecurrenceID] = true
			recurrenceIDs = append(recurrenceIDs, *lesson.RecurrenceID)
		}
		if lesson.TeacherID != nil && !seenTeacher[*lesson.TeacherID] {
			seenTeacher[*lesson.TeacherID] = true
			teacherIDs = append(teacherIDs, *lesson.TeacherID)
		}
	}

	students, err := s.students.ListByIDs(ctx, orgID, studentIDs)
	if err != nil {
		return nil, err
	}
	rules, err := s.lessons.ListRecurrenceRules(ctx, orgID, recurrenceIDs)
	if err != nil {
		return nil, err
	}
	teacherNames, err := s.lessons.ListTeacherNames(ctx, orgID, teacherIDs)
	if err != nil {
		return nil, err
	}

	studentsByID := make(map[string]models.Student, len(students))
	for _, student := range students {
		if student.Status == models.StudentActive {
			studentsByID[student.ID] = student
		}
	}
	rulesByID := make(map[string]models.RecurrenceRule, len(rules))
	for _, rule := range rules {
		rulesByID[rule.ID] = rule
	}

	grouped := make(map[string]*EligibleStudent)
	for _, lesson := range lessons {
		if lesson.RecurrenceID == nil {
			continue
		}
		base, ok := studentsByID[lesson.StudentID]
		if !ok {
			continue
		}
		rule, ok := rulesByID[*lesson.RecurrenceID]
		if !ok {
			continue
		}

		student, ok := grouped[lesson.StudentID]
		if !ok {
			student = &EligibleStudent{
				StudentID:         base.ID,
				StudentName:       base.FullName,
				DefaultRateCardID: base.DefaultRateCardID,
			}
			grouped[lesson.StudentID] = student
		}

		recurrence := findRecurrence(student, rule.ID)
		if recurrence == nil {
			recurrence = &EligibleRecurrence{
				RecurrenceID: rule.ID,
				DaysOfWeek:   int64sToInts(rule.DaysOfWeek),
				StartTime:    rule.StartTime,
			}
			if lesson.TeacherID != nil {
				recurrence.TeacherName = teacherNames[*lesson.TeacherID]
			}
			if lesson.Instrument != nil {
				recurrence.Instrument = *lesson.Instrument
			}
			student.Recurrences = append(student.Recurrences, recurrence)
		}
		recurrence.Lessons = append(recurrence.Lessons, EligibleLesson{StartsAt: lesson.StartsAt, EndsAt: lesson.EndsAt})
	}
	return grouped, nil
}

func findRecurrence(student *EligibleStudent, recurrenceID string) *EligibleRecurrence {
	for _, recurrence := range student.Recurrences {
		if recurrence.RecurrenceID == recurrenceID {
			return recurrence
		}
	}
	return nil
}

func int64sToInts(values []int64) []int {
	result := make([]int, len(values))
	for i, v := range values {
		result[i] = int(v)
	}
	return result
}
