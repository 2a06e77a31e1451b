package main

import (
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	minPasswordLength = 8
	maxCompanyName    = 200
	maxCompanyWebsite = 500
	maxPositionLength = 200
	maxFollowUpNote   = 1000
	maxEmailLength    = 254
)

// validateEmail trims and checks an address. Display names are rejected;
// only the bare address is accepted. Case is preserved.
func validateEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", invalid("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return "", invalid("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", invalid("email", "value is not a valid email address")
	}
	return email, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(strings.TrimSpace(password)) < minPasswordLength {
		return invalid("password", "password must be at least 8 characters")
	}
	return nil
}

// boundedText trims s and checks its length in runes.
func boundedText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return "", invalid(field, field+" must not be empty")
	}
	if n > max {
		return "", invalid(field, field+" must be at most "+strconv.Itoa(max)+" characters")
	}
	return s, nil
}

// normalizeWebsite accepts an absolute http(s) URL. Empty means none.
func normalizeWebsite(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil, nil
	}
	if len(s) > maxCompanyWebsite {
		return nil, invalid("website", "website must be at most 500 characters")
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalid("website", "website must be an http or https URL")
	}
	return &s, nil
}

func validateStatus(s ApplicationStatus) error {
	if !s.valid() {
		return invalid("status", "status must be one of applied, interview, offer, rejected")
	}
	return nil
}

// validateAppliedAt rejects days after today in UTC.
func validateAppliedAt(d *Date, now time.Time) error {
	if d == nil {
		return nil
	}
	if d.After(newDate(now).Time) {
		return invalid("applied_at", "applied_at cannot be in the future")
	}
	return nil
}

// parseApplicationFilter reads the list query string.
func parseApplicationFilter(q url.Values) (ApplicationFilter, error) {
	f := ApplicationFilter{Limit: defaultListLimit, OrderBy: "id", Desc: true}

	if s := strings.TrimSpace(q.Get("status")); s != "" {
		f.Status = ApplicationStatus(strings.ToLower(s))
		if err := validateStatus(f.Status); err != nil {
			return f, err
		}
	}
	if s := q.Get("company_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return f, invalid("company_id", "company_id must be a positive integer")
		}
		f.CompanyID = id
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxListLimit {
			return f, invalid("limit", "limit must be between 1 and 100")
		}
		f.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, invalid("offset", "offset must be zero or greater")
		}
		f.Offset = n
	}
	if s := strings.TrimSpace(q.Get("order_by")); s != "" {
		f.Desc = strings.HasPrefix(s, "-")
		col := strings.TrimPrefix(s, "-")
		if !applicationOrderColumns[col] {
			return f, invalid("order_by", "order_by must be one of id, applied_at, position, status")
		}
		f.OrderBy = col
	}
	return f, nil
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
