package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clefworks/msm-api/internal/models"
)

func sampleEmailData() guardianEmailData {
	return guardianEmailData{
		GuardianName: "Mei Chen",
		NextTermName: "Term 3 2026",
		Deadline:     time.Date(2026, time.April, 5, 0, 0, 0, 0, time.UTC),
		Children: []emailChild{{
			StudentName: "Ada Chen",
			Lessons: []models.LessonSummaryEntry{{
				Day: "Thursday", StartTime: "16:00", TeacherName: "Ms Webb",
				Instrument: "piano", DurationMinutes: 30, LessonFeeCents: 3000, LessonCount: 9,
			}},
			TermFeeCents: 27000,
			ContinueURL:  "https://portal.example.com/respond/tok-1?action=continue",
			WithdrawURL:  "https://portal.example.com/respond/tok-1?action=withdraw",
		}},
	}
}

func TestRenderInitialEmail(t *testing.T) {
	subject, body, err := renderGuardianEmail(models.MessageKindInitial, sampleEmailData())
	require.NoError(t, err)
	require.Equal(t, "Re-enrolment for Term 3 2026: please respond by 5 April", subject)
	require.Contains(t, body, "Dear Mei Chen")
	require.Contains(t, body, "Ada Chen")
	require.Contains(t, body, "Sunday, 5 April 2026")
	require.Contains(t, body, "$30.00")
	require.Contains(t, body, "$270.00")
	require.Contains(t, body, "https://portal.example.com/respond/tok-1?action=continue")
	require.Contains(t, body, "https://portal.example.com/respond/tok-1?action=withdraw")
}

func TestRenderReminderEmail(t *testing.T) {
	subject, body, err := renderGuardianEmail(models.MessageKindReminder, sampleEmailData())
	require.NoError(t, err)
	require.Equal(t, "Reminder: re-enrolment for Term 3 2026 closes 5 April", subject)
	require.Contains(t, body, "Ada Chen")
	require.Contains(t, body, "$270.00")
	require.NotContains(t, body, "<table")
}

func TestFormatCents(t *testing.T) {
	require.Equal(t, "$0.00", formatCents(0))
	require.Equal(t, "$0.05", formatCents(5))
	require.Equal(t, "$12.50", formatCents(1250))
	require.Equal(t, "-$3.00", formatCents(-300))
}
