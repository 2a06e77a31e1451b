package main

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ApplicationStatus is the pipeline stage of a job application.
type ApplicationStatus string

const (
	StatusApplied   ApplicationStatus = "applied"
	StatusInterview ApplicationStatus = "interview"
	StatusOffer     ApplicationStatus = "offer"
	StatusRejected  ApplicationStatus = "rejected"
)

// applicationStatuses lists every status in pipeline order.
var applicationStatuses = []ApplicationStatus{StatusApplied, StatusInterview, StatusOffer, StatusRejected}

func (s ApplicationStatus) valid() bool {
	for _, v := range applicationStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Company is an employer tracked by one user.
type Company struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"-"`
	Name      string    `json:"name"`
	Website   *string   `json:"website"`
	CreatedAt time.Time `json:"created_at"`
}

// Application is a job application to one of the owner's companies.
type Application struct {
	ID        int64             `json:"id"`
	OwnerID   int64             `json:"-"`
	CompanyID int64             `json:"company_id"`
	Position  string            `json:"position"`
	Status    ApplicationStatus `json:"status"`
	AppliedAt *Date             `json:"applied_at"`
	CreatedAt time.Time         `json:"created_at"`
}

// ApplicationPatch carries the fields of a partial update. Nil fields are
// left unchanged; ClearAppliedAt sets applied_at to null.
type ApplicationPatch struct {
	CompanyID      *int64
	Position       *string
	Status         *ApplicationStatus
	AppliedAt      *Date
	ClearAppliedAt bool
}

func (p ApplicationPatch) empty() bool {
	return p.CompanyID == nil && p.Position == nil && p.Status == nil && p.AppliedAt == nil && !p.ClearAppliedAt
}

func (p ApplicationPatch) apply(a *Application) {
	if p.CompanyID != nil {
		a.CompanyID = *p.CompanyID
	}
	if p.Position != nil {
		a.Position = *p.Position
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.AppliedAt != nil {
		d := *p.AppliedAt
		a.AppliedAt = &d
	}
	if p.ClearAppliedAt {
		a.AppliedAt = nil
	}
}

// FollowUp is a dated note attached to an application.
type FollowUp struct {
	ID            int64     `json:"id"`
	OwnerID       int64     `json:"-"`
	ApplicationID int64     `json:"application_id"`
	Note          string    `json:"note"`
	CreatedAt     time.Time `json:"created_at"`
}

// ApplicationFilter narrows and pages ListApplications.
type ApplicationFilter struct {
	Status    ApplicationStatus
	CompanyID int64
	Limit     int
	Offset    int
	OrderBy   string
	Desc      bool
}

// applicationOrderColumns are the columns a list may be sorted by.
var applicationOrderColumns = map[string]bool{
	"id":         true,
	"applied_at": true,
	"position":   true,
	"status":     true,
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
	recentFollowUps  = 5
)

// DashboardSummary aggregates one user's pipeline.
type DashboardSummary struct {
	CountsByStatus  map[ApplicationStatus]int `json:"counts_by_status"`
	RecentFollowUps []*FollowUp               `json:"recent_followups"`
}

// Date is a calendar day without time of day, encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func newDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func parseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := parseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	*d = parsed
	return nil
}

// Value stores the day as text; Postgres casts it into DATE.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*d = newDate(v)
		return nil
	case string:
		return d.scanText(v)
	case []byte:
		return d.scanText(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) scanText(s string) error {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := parseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
