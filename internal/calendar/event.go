package calendar

import "time"

// Source classification of an event.
const (
	SourceWork     = "work"
	SourcePersonal = "personal"
)

// EventTime is one side of an event: a timed event carries DateTime
// (RFC 3339), an all-day event carries Date (2006-01-02). Exactly one of
// the two is populated.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

// IsZero reports whether neither representation is populated.
func (t EventTime) IsZero() bool {
	return t.DateTime == "" && t.Date == ""
}

// Time parses the populated representation. All-day dates resolve to
// midnight UTC. Returns the zero time when unparseable.
func (t EventTime) Time() time.Time {
	if t.DateTime != "" {
		if ts, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return ts
		}
	}
	if t.Date != "" {
		if ts, err := time.Parse("2006-01-02", t.Date); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Event is the unified event representation, independent of provider.
type Event struct {
	ID           string    `json:"id"`
	CalendarID   string    `json:"calendarId"`
	Summary      string    `json:"summary"`
	Start        EventTime `json:"start"`
	End          EventTime `json:"end"`
	Source       string    `json:"source"` // work | personal
	Description  string    `json:"description,omitempty"`
	CalendarName string    `json:"calendarName,omitempty"`
	Tags         []string  `json:"tags,omitempty"`

	// Recurrence metadata preserved for O365 events. Google results
	// arrive pre-expanded and never carry these.
	IsRecurring    bool   `json:"isRecurring,omitempty"`
	SeriesMasterID string `json:"seriesMasterId,omitempty"`
	Recurrence     string `json:"recurrence,omitempty"`
}

// RecurrenceKind distinguishes non-recurring events, concrete instances of
// a series, and unexpanded series masters in raw relay records.
type RecurrenceKind int

const (
	RecurrenceNone RecurrenceKind = iota
	RecurrenceInstance
	RecurrenceMaster
)

// RecurrenceInfo is the recurrence state attached to a raw relay record
// before normalization.
type RecurrenceInfo struct {
	Kind RecurrenceKind
	// SeriesID identifies the master for an instance.
	SeriesID string
	// Rule and Until describe a master's pattern: one of
	// daily/weekly/monthly/yearly and the end of the series.
	Rule  string
	Until time.Time
}

// FetchResult is one source's contribution to an aggregation. A failed
// source carries Err and no events; the aggregator logs and drops it
// instead of aborting the request.
type FetchResult struct {
	Source     string // provider key: "google" or "o365"
	CalendarID string
	Events     []Event
	Err        error
}

// sourceKind derives the work/personal classification from a source's tag
// set. Untagged O365 sources default to work, untagged Google sources to
// personal.
func sourceKind(tags []string, o365 bool) string {
	for _, t := range tags {
		if t == "work" {
			return SourceWork
		}
	}
	if o365 {
		return SourceWork
	}
	return SourcePersonal
}
