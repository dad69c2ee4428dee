package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clefworks/msm-api/internal/models"
)

type lessonStoreStub struct {
	rows      []models.RecurringLessonRow
	rowsErr   error
	lessons   []models.Lesson
	rules     []models.RecurrenceRule
	teachers  map[string]string
	joinCalls int
}

func (s *lessonStoreStub) ListRecurringLessonRows(ctx context.Context, orgID string, start, end time.Time) ([]models.RecurringLessonRow, error) {
	s.joinCalls++
	if s.rowsErr != nil {
		return nil, s.rowsErr
	}
	return s.rows, nil
}

func (s *lessonStoreStub) ListLessonsInRange(ctx context.Context, orgID string, start, end time.Time) ([]models.Lesson, error) {
	return s.lessons, nil
}

func (s *lessonStoreStub) ListRecurrenceRules(ctx context.Context, orgID string, ids []string) ([]models.RecurrenceRule, error) {
	return s.rules, nil
}

func (s *lessonStoreStub) ListTeacherNames(ctx context.Context, orgID string, ids []string) (map[string]string, error) {
	return s.teachers, nil
}

type studentStoreStub struct {
	students []models.Student
}

func (s *studentStoreStub) ListByIDs(ctx context.Context, orgID string, ids []string) ([]models.Student, error) {
	return s.students, nil
}

func strPtr(v string) *string { return &v }

func TestEligibilityCollectGroupsByRecurrence(t *testing.T) {
	mon1 := time.Date(2026, time.February, 2, 16, 0, 0, 0, time.UTC)
	lessons := &lessonStoreStub{
		rows: []models.RecurringLessonRow{
			{
				LessonID: "l1", StudentID: "s1", StudentName: "Ada Chen", StudentStatus: models.StudentActive,
				RecurrenceID: "r1", DaysOfWeek: []int64{1}, StartTime: "16:00",
				TeacherName: strPtr("Ms Webb"), Instrument: strPtr("piano"),
				StartsAt: mon1, EndsAt: mon1.Add(30 * time.Minute),
			},
			{
				LessonID: "l2", StudentID: "s1", StudentName: "Ada Chen", StudentStatus: models.StudentActive,
				RecurrenceID: "r1", DaysOfWeek: []int64{1}, StartTime: "16:00",
				TeacherName: strPtr("Ms Webb"), Instrument: strPtr("piano"),
				StartsAt: mon1.AddDate(0, 0, 7), EndsAt: mon1.AddDate(0, 0, 7).Add(30 * time.Minute),
			},
			{
				LessonID: "l3", StudentID: "s1", StudentName: "Ada Chen", StudentStatus: models.StudentActive,
				RecurrenceID: "r2", DaysOfWeek: []int64{4}, StartTime: "17:30",
				TeacherName: strPtr("Mr Okafor"), Instrument: strPtr("violin"),
				StartsAt: mon1.AddDate(0, 0, 3), EndsAt: mon1.AddDate(0, 0, 3).Add(45 * time.Minute),
			},
		},
	}
	svc := NewEligibilityService(lessons, &studentStoreStub{}, nil)

	term := &models.Term{ID: "t1", StartDate: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)}
	grouped, err := svc.Collect(context.Background(), "org-1", term)
	require.NoError(t, err)
	require.Len(t, grouped, 1)

	student := grouped["s1"]
	require.Equal(t, "Ada Chen", student.StudentName)
	require.Len(t, student.Recurrences, 2)
	require.Len(t, student.Recurrences[0].Lessons, 2)
	require.Equal(t, "Ms Webb", student.Recurrences[0].TeacherName)
	require.Equal(t, "violin", student.Recurrences[1].Instrument)
}

func TestEligibilityCollectSkipsInactiveStudents(t *testing.T) {
	mon1 := time.Date(2026, time.February, 2, 16, 0, 0, 0, time.UTC)
	lessons := &lessonStoreStub{
		rows: []models.RecurringLessonRow{
			{
				LessonID: "l1", StudentID: "s1", StudentName: "Ada Chen", StudentStatus: models.StudentWaitlist,
				RecurrenceID: "r1", DaysOfWeek: []int64{1}, StartTime: "16:00",
				StartsAt: mon1, EndsAt: mon1.Add(30 * time.Minute),
			},
		},
	}
	svc := NewEligibilityService(lessons, &studentStoreStub{}, nil)

	term := &models.Term{ID: "t1"}
	grouped, err := svc.Collect(context.Background(), "org-1", term)
	require.NoError(t, err)
	require.Empty(t, grouped)
}

func TestEligibilityCollectNarrowFallback(t *testing.T) {
	mon1 := time.Date(2026, time.February, 2, 16, 0, 0, 0, time.UTC)
	lessons := &lessonStoreStub{
		rowsErr: errors.New("joined query unsupported"),
		lessons: []models.Lesson{
			{ID: "l1", StudentID: "s1", TeacherID: strPtr("te1"), RecurrenceID: strPtr("r1"), Instrument: strPtr("piano"), StartsAt: mon1, EndsAt: mon1.Add(30 * time.Minute), Status: models.LessonScheduled},
			{ID: "l2", StudentID: "s2", RecurrenceID: nil, StartsAt: mon1, EndsAt: mon1.Add(time.Hour), Status: models.LessonScheduled},
		},
		rules:    []models.RecurrenceRule{{ID: "r1", DaysOfWeek: []int64{1}, StartTime: "16:00", DurationMinutes: 30}},
		teachers: map[string]string{"te1": "Ms Webb"},
	}
	students := &studentStoreStub{students: []models.Student{
		{ID: "s1", FullName: "Ada Chen", Status: models.StudentActive},
		{ID: "s2", FullName: "Ben Osei", Status: models.StudentActive},
	}}
	svc := NewEligibilityService(lessons, students, nil)

	term := &models.Term{ID: "t1"}
	grouped, err := svc.Collect(context.Background(), "org-1", term)
	require.NoError(t, err)
	require.Equal(t, 1, lessons.joinCalls)

	// One-off lessons without a recurrence never qualify.
	require.Len(t, grouped, 1)
	require.Equal(t, "Ada Chen", grouped["s1"].StudentName)
	require.Equal(t, "Ms Webb", grouped["s1"].Recurrences[0].TeacherName)
}
