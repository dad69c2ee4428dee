package models

import "time"

// Term models an academic term within an organisation's calendar.
type Term struct {
	ID        string    `db:"id" json:"id"`
	OrgID     string    `db:"org_id" json:"org_id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClosureDate is an org-wide date on which no lessons run.
type ClosureDate struct {
	ID     string    `db:"id" json:"id"`
	OrgID  string    `db:"org_id" json:"org_id"`
	Date   time.Time `db:"date" json:"date"`
	Reason string    `db:"reason" json:"reason"`
}
