package models

import (
	"time"

	"github.com/lib/pq"
)

// RecurrenceRule describes a standing weekly lesson commitment. A rule may span
// several weekdays but carries a single duration across all of them.
type RecurrenceRule struct {
	ID              string        `db:"id" json:"id"`
	OrgID           string        `db:"org_id" json:"org_id"`
	DaysOfWeek      pq.Int64Array `db:"days_of_week" json:"days_of_week"`
	StartTime       string        `db:"start_time" json:"start_time"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// LessonStatus marks whether a scheduled lesson still stands.
type LessonStatus string

const (
	LessonScheduled LessonStatus = "scheduled"
	LessonCompleted LessonStatus = "completed"
	LessonCancelled LessonStatus = "cancelled"
)

// Lesson is a single scheduled session for one student.
type Lesson struct {
	ID           string       `db:"id" json:"id"`
	OrgID        string       `db:"org_id" json:"org_id"`
	StudentID    string       `db:"student_id" json:"student_id"`
	TeacherID    *string      `db:"teacher_id" json:"teacher_id,omitempty"`
	RecurrenceID *string      `db:"recurrence_id" json:"recurrence_id,omitempty"`
	Instrument   *string      `db:"instrument" json:"instrument,omitempty"`
	StartsAt     time.Time    `db:"starts_at" json:"starts_at"`
	EndsAt       time.Time    `db:"ends_at" json:"ends_at"`
	Status       LessonStatus `db:"status" json:"status"`
}

// RecurringLessonRow is the joined shape produced by the primary eligibility
// query: lesson, student, recurrence and teacher context in one row.
type RecurringLessonRow struct {
	LessonID        string        `db:"lesson_id"`
	StudentID       string        `db:"student_id"`
	StudentName     string        `db:"student_name"`
	StudentStatus   StudentStatus `db:"student_status"`
	DefaultRateCard *string       `db:"default_rate_card_id"`
	RecurrenceID    string        `db:"recurrence_id"`
	DaysOfWeek      pq.Int64Array `db:"days_of_week"`
	StartTime       string        `db:"start_time"`
	TeacherName     *string       `db:"teacher_name"`
	Instrument      *string       `db:"instrument"`
	StartsAt        time.Time     `db:"starts_at"`
	EndsAt          time.Time     `db:"ends_at"`
}

// RateCard prices a lesson of a given duration.
type RateCard struct {
	ID              string    `db:"id" json:"id"`
	OrgID           string    `db:"org_id" json:"org_id"`
	Name            string    `db:"name" json:"name"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	AmountCents     int       `db:"amount_cents" json:"amount_cents"`
	IsDefault       bool      `db:"is_default" json:"is_default"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
