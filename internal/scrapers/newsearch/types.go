package newsearch

import (
	"errors"
	"fmt"
	"time"
)

// NamedRange is a date window the provider resolves relative to now.
type NamedRange string

const (
	LastDay     NamedRange = "LastDay"
	LastWeek    NamedRange = "LastWeek"
	LastMonth   NamedRange = "LastMonth"
	Last3Months NamedRange = "Last3Months"
)

// NamedRangeForDays maps a day count onto the smallest named range covering it.
func NamedRangeForDays(days int) NamedRange {
	switch {
	case days <= 1:
		return LastDay
	case days <= 7:
		return LastWeek
	case days <= 30:
		return LastMonth
	default:
		return Last3Months
	}
}

// ParseNamedRange accepts the provider's range names case-sensitively.
func ParseNamedRange(name string) (NamedRange, error) {
	switch r := NamedRange(name); r {
	case LastDay, LastWeek, LastMonth, Last3Months:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown date range %q", ErrInvalidQuery, name)
}

// DateWindow is exactly one of an explicit Start/End pair, a Named range or
// a Days count (mapped with NamedRangeForDays). The zero value means no
// date restriction.
type DateWindow struct {
	Start time.Time
	End   time.Time
	Named NamedRange
	Days  int
}

func Between(start, end time.Time) DateWindow {
	return DateWindow{Start: start, End: end}
}

// LastDays is a window over the last days days. A zero count is the current
// day and maps to LastDay, it never means "no restriction".
func LastDays(days int) DateWindow {
	if days == 0 {
		days = 1
	}
	return DateWindow{Days: days}
}

func Named(r NamedRange) DateWindow {
	return DateWindow{Named: r}
}

func (w DateWindow) explicit() bool {
	return !w.Start.IsZero() || !w.End.IsZero()
}

// String renders the window the way the provider receives it, "any" when
// there is no restriction.
func (w DateWindow) String() string {
	r := toDateRange(w)
	switch {
	case r == nil:
		return "any"
	case r.Named != "":
		return r.Named
	}
	return r.Start + ".." + r.End
}

func (w DateWindow) validate() error {
	set := 0
	if w.explicit() {
		set++
		if w.Start.IsZero() || w.End.IsZero() {
			return fmt.Errorf("%w: explicit date window needs both start and end", ErrInvalidQuery)
		}
		if w.Start.After(w.End) {
			return fmt.Errorf("%w: date window starts after it ends", ErrInvalidQuery)
		}
	}
	if w.Named != "" {
		set++
		if _, err := ParseNamedRange(string(w.Named)); err != nil {
			return err
		}
	}
	if w.Days != 0 {
		set++
		if w.Days < 0 {
			return fmt.Errorf("%w: negative day count %d", ErrInvalidQuery, w.Days)
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: date window mixes explicit dates, named range and day count", ErrInvalidQuery)
	}
	return nil
}

// Query describes one search invocation. A zero PageLimit or Sort falls back
// to the client's configured defaults.
type Query struct {
	Text       string
	Window     DateWindow
	Scopes     []string
	PageOffset int
	PageLimit  int
	MaxResults int
	Sort       string
}

var ErrInvalidQuery = errors.New("invalid search query")

func (q Query) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}
	if q.PageOffset < 0 {
		return fmt.Errorf("%w: negative page offset %d", ErrInvalidQuery, q.PageOffset)
	}
	if q.PageLimit < 0 {
		return fmt.Errorf("%w: negative page limit %d", ErrInvalidQuery, q.PageLimit)
	}
	if q.MaxResults <= 0 {
		return fmt.Errorf("%w: max results must be positive, got %d", ErrInvalidQuery, q.MaxResults)
	}
	return q.Window.validate()
}

// Record is one article hit. Dates are kept in the provider's own format.
type Record struct {
	ID              string
	SourceName      string
	Headline        string
	PublicationDate string
	LoadDate        string
	Author          string
	Snippet         string
	LanguageCode    string
	WordCount       int
	URL             string
}

// Result holds the records of one search in page order, duplicates across
// pages are kept.
type Result struct {
	Records    []Record
	TotalCount int
	Pages      int
	// Truncated is set when the search was cancelled before it finished.
	Truncated bool
}

// AuthenticationError means the provider rejected the credential. Retrying
// the whole search resolves a fresh credential.
type AuthenticationError struct {
	Offset int
	Body   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("newsearch: credential rejected at offset %d", e.Offset)
}

// TransientError is any other non-2xx response (StatusCode set) or a
// network level failure (Err set).
type TransientError struct {
	Offset     int
	StatusCode int
	Body       string
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("newsearch: request at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("newsearch: status %d at offset %d: %s", e.StatusCode, e.Offset, e.Body)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PaginationIncomplete means a page could not be parsed. The records of the
// pages before it are still returned alongside.
type PaginationIncomplete struct {
	Offset      int
	Accumulated int
	Err         error
}

func (e *PaginationIncomplete) Error() string {
	return fmt.Sprintf(
		"newsearch: malformed page at offset %d after %d records: %v",
		e.Offset, e.Accumulated, e.Err,
	)
}

func (e *PaginationIncomplete) Unwrap() error {
	return e.Err
}
