package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type AlarmState string

const (
	AlarmWaiting AlarmState = "waiting"
	AlarmRunning AlarmState = "running"
	AlarmDone    AlarmState = "done"
	AlarmFailed  AlarmState = "failed"
)

// Alarm is one scheduled notification of one VALARM occurrence for one
// recipient.
type Alarm struct {
	ID              string
	UserID          string
	EventPath       string
	EventUID        string
	RecurrenceID    string // empty for the master VEVENT
	AlarmIndex      int
	Action          string
	Attendee        string
	DueDate         time.Time
	OccurrenceStart time.Time
	State           AlarmState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IndexedEvent is a searchable event record. Document holds the full
// denormalized record as JSON.
type IndexedEvent struct {
	UserID       string
	CalendarID   string
	UID          string
	RecurrenceID string
	Summary      string
	Description  string
	Location     string
	Start        time.Time
	End          time.Time
	Document     []byte
	UpdatedAt    time.Time
}

type SearchQuery struct {
	UserID      string
	CalendarIDs []string
	// Text is matched case-insensitively against summary, description and
	// location. Empty matches everything.
	Text   string
	Limit  int
	Offset int
}

const DefaultSearchLimit = 50

// Normalize fills in the default limit and clamps negative offsets.
func (q SearchQuery) Normalize() SearchQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

type AlarmStore interface {
	CreateAlarm(ctx context.Context, a *Alarm) error
	// ClaimDueAlarms atomically moves up to limit waiting alarms due at or
	// before now into the running state and returns them, earliest first.
	ClaimDueAlarms(ctx context.Context, now time.Time, limit int) ([]*Alarm, error)
	UpdateAlarmState(ctx context.Context, id string, state AlarmState) error
	ListAlarmsByEvent(ctx context.Context, eventPath string) ([]*Alarm, error)
	// DeleteAlarmsByEvent removes every alarm of the event that is not
	// currently running.
	DeleteAlarmsByEvent(ctx context.Context, eventPath string) error
}

type EventIndex interface {
	// PutIndexedEvent inserts or replaces the record keyed by user,
	// calendar, uid and recurrence id.
	PutIndexedEvent(ctx context.Context, ev *IndexedEvent) error
	// DeleteIndexedEvents removes the master and every override of uid.
	DeleteIndexedEvents(ctx context.Context, userID, calendarID, uid string) error
	SearchIndexedEvents(ctx context.Context, q SearchQuery) ([]*IndexedEvent, error)
}

type Store interface {
	AlarmStore
	EventIndex
	Close()
}
