package models

import "time"

// StudentStatus is the enrolment standing of a student.
type StudentStatus string

const (
	StudentActive   StudentStatus = "active"
	StudentInactive StudentStatus = "inactive"
	StudentWaitlist StudentStatus = "waitlist"
)

// Student represents a learner enrolled with an organisation.
type Student struct {
	ID                string        `db:"id" json:"id"`
	OrgID             string        `db:"org_id" json:"org_id"`
	FullName          string        `db:"full_name" json:"full_name"`
	Status            StudentStatus `db:"status" json:"status"`
	DefaultRateCardID *string       `db:"default_rate_card_id" json:"default_rate_card_id,omitempty"`
	DeletedAt         *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// Guardian is an adult contact linked to one or more students. The primary
// payer guardian receives continuation communication for their children.
type Guardian struct {
	ID        string    `db:"id" json:"id"`
	OrgID     string    `db:"org_id" json:"org_id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
