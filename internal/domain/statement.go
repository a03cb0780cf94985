package domain

import (
	"strings"
	"time"
)

const statementDateLayout = "2006-01-02"

// StatementRange is a half-open window [Start, End) resolved in the account timezone.
type StatementRange struct {
	Start time.Time
	End   time.Time
}

// ParseStatementRange accepts YYYY-MM-DD dates (the end date is inclusive) or
// RFC-3339 instants (the end instant is exclusive).
func ParseStatementRange(start, end string, loc *time.Location) (StatementRange, error) {
	if strings.TrimSpace(start) == "" {
		return StatementRange{}, Invalid("start", "start is required")
	}
	if strings.TrimSpace(end) == "" {
		return StatementRange{}, Invalid("end", "end is required")
	}
	s, _, err := parseStatementBound(start, loc)
	if err != nil {
		return StatementRange{}, Invalid("start", "start must be YYYY-MM-DD or RFC3339")
	}
	e, endIsDate, err := parseStatementBound(end, loc)
	if err != nil {
		return StatementRange{}, Invalid("end", "end must be YYYY-MM-DD or RFC3339")
	}
	reversed := s.After(e)
	if endIsDate {
		e = e.AddDate(0, 0, 1)
		reversed = !s.Before(e)
	}
	if reversed {
		return StatementRange{}, Invalid("start", "start must not be after end")
	}
	return StatementRange{Start: s, End: e}, nil
}

// parseStatementBound also reports whether v was a calendar date rather than an instant.
func parseStatementBound(v string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseInLocation(statementDateLayout, v, loc); err == nil {
		return d, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

// DayWindow returns [local midnight, next local midnight) containing t in loc.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// StatementFormatted holds display strings in major units.
type StatementFormatted struct {
	OpeningBalance   string `json:"opening_balance"`
	ClosingBalance   string `json:"closing_balance"`
	TotalDeposits    string `json:"total_deposits"`
	TotalWithdrawals string `json:"total_withdrawals"`
}

type Statement struct {
	AccountID        string             `json:"account_id"`
	AccountNumber    string             `json:"account_number"`
	Currency         string             `json:"currency"`
	Start            time.Time          `json:"start"`
	End              time.Time          `json:"end"`
	OpeningBalance   int64              `json:"opening_balance_cents"`
	ClosingBalance   int64              `json:"closing_balance_cents"`
	TotalDeposits    int64              `json:"total_deposits_cents"`
	TotalWithdrawals int64              `json:"total_withdrawals_cents"`
	TransactionCount int                `json:"transaction_count"`
	Postings         []*Posting         `json:"postings"`
	Formatted        StatementFormatted `json:"formatted"`
	GeneratedAt      time.Time          `json:"generated_at"`
}
