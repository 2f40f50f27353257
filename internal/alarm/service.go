package alarm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/caldav"
	"github.com/sonroyaalmerol/esn-calendar/internal/directory"
	"github.com/sonroyaalmerol/esn-calendar/internal/storage"
	"github.com/sonroyaalmerol/esn-calendar/pkg/ical"

	"github.com/rs/zerolog"
)

const recurrenceIDFormat = "2006-01-02T15:04:05.000Z"

// EventSource fetches the current version of an event.
type EventSource interface {
	GetEventFromPath(ctx context.Context, userID, path string) (*caldav.Event, error)
}

// UserDirectory resolves the mail address of the event owner.
type UserDirectory interface {
	LookupUser(ctx context.Context, uid string) (*directory.User, error)
}

type Service struct {
	store     storage.AlarmStore
	events    EventSource
	users     UserDirectory
	notifier  Notifier
	logger    zerolog.Logger
	batchSize int
	now       func() time.Time
}

type Option func(*Service)

// WithDirectory enables owner mail lookup for EMAIL alarms without ATTENDEE.
func WithDirectory(users UserDirectory) Option {
	return func(s *Service) { s.users = users }
}

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.AlarmStore, events EventSource, notifier Notifier, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		events:    events,
		notifier:  notifier,
		logger:    logger,
		batchSize: 100,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterEvent replaces the stored alarms of the event at eventPath with the
// next upcoming alarm of every VALARM in ics. It returns the number of alarm
// rows created.
func (s *Service) RegisterEvent(ctx context.Context, userID, eventPath, ics string) (int, error) {
	cal, err := ical.Parse([]byte(ics))
	if err != nil {
		return 0, err
	}
	if err := s.store.DeleteAlarmsByEvent(ctx, eventPath); err != nil {
		return 0, fmt.Errorf("clear alarms of %s: %w", eventPath, err)
	}

	now := s.now().UTC()
	created := 0
	for _, ev := range cal.Events {
		for i, a := range ev.Alarms {
			due, occ, ok := s.firstAlarm(ev, a, now)
			if !ok {
				continue
			}
			n, err := s.schedule(ctx, userID, eventPath, ev, i, a, due, occ)
			if err != nil {
				return created, err
			}
			created += n
		}
	}

	s.logger.Debug().
		Str("user", userID).
		Str("path", eventPath).
		Int("alarms", created).
		Msg("registered event alarms")
	return created, nil
}

// UnregisterEvent drops every pending alarm of the event.
func (s *Service) UnregisterEvent(ctx context.Context, eventPath string) error {
	return s.store.DeleteAlarmsByEvent(ctx, eventPath)
}

// ProcessDue fires the alarms due now and returns how many were handled.
// When ctx ends mid-batch, the alarms not yet fired go back to waiting.
func (s *Service) ProcessDue(ctx context.Context) (int, error) {
	claimed, err := s.store.ClaimDueAlarms(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due alarms: %w", err)
	}
	for i, a := range claimed {
		if err := ctx.Err(); err != nil {
			s.release(context.WithoutCancel(ctx), claimed[i:])
			return i, err
		}
		state := s.fire(ctx, a)
		if err := s.store.UpdateAlarmState(ctx, a.ID, state); err != nil {
			s.logger.Error().Err(err).Str("alarm_id", a.ID).Msg("failed to update alarm state")
		}
	}
	return len(claimed), nil
}

// release puts claimed alarms that were not fired back in the queue.
func (s *Service) release(ctx context.Context, alarms []*storage.Alarm) {
	for _, a := range alarms {
		if err := s.store.UpdateAlarmState(ctx, a.ID, storage.AlarmWaiting); err != nil {
			s.logger.Error().Err(err).Str("alarm_id", a.ID).Msg("failed to release alarm")
		}
	}
}

func (s *Service) fire(ctx context.Context, a *storage.Alarm) storage.AlarmState {
	log := s.logger.With().Str("alarm_id", a.ID).Str("path", a.EventPath).Logger()

	obj, err := s.events.GetEventFromPath(ctx, a.UserID, a.EventPath)
	if err != nil {
		if caldav.IsStatus(err, http.StatusNotFound) {
			log.Info().Msg("event no longer exists, dropping alarm")
			return storage.AlarmDone
		}
		log.Error().Err(err).Msg("failed to fetch event")
		return storage.AlarmFailed
	}

	cal, err := ical.Parse([]byte(obj.ICal))
	if err != nil {
		log.Error().Err(err).Msg("failed to parse event")
		return storage.AlarmFailed
	}
	ev, err := selectEvent(cal, a.RecurrenceID)
	if err != nil {
		log.Info().Err(err).Msg("alarm target no longer exists")
		return storage.AlarmDone
	}
	if a.AlarmIndex >= len(ev.Alarms) {
		log.Info().Int("index", a.AlarmIndex).Msg("VALARM was removed from the event")
		return storage.AlarmDone
	}
	va := ev.Alarms[a.AlarmIndex]

	msg := Notification{
		AlarmID:         a.ID,
		UserID:          a.UserID,
		Recipient:       a.Attendee,
		Action:          a.Action,
		EventPath:       a.EventPath,
		EventUID:        ev.UID,
		RecurrenceID:    a.RecurrenceID,
		Summary:         firstNonEmpty(va.Summary, ev.Summary),
		Description:     firstNonEmpty(va.Description, ev.Description),
		Location:        ev.Location,
		OccurrenceStart: a.OccurrenceStart,
		DueDate:         a.DueDate,
	}

	state := storage.AlarmDone
	if err := s.notifier.Notify(ctx, msg); err != nil {
		log.Error().Err(err).Msg("failed to deliver alarm")
		state = storage.AlarmFailed
	}

	if a.RecurrenceID == "" && ev.IsRecurring() {
		s.chain(ctx, a, ev, va)
	}
	return state
}

// chain stores the alarm of the occurrence following the fired one.
func (s *Service) chain(ctx context.Context, fired *storage.Alarm, ev *ical.Event, va *ical.Alarm) {
	due, occ, ok := upcomingAlarm(ev, va, fired.OccurrenceStart, s.now().UTC())
	if !ok {
		s.logger.Debug().Str("path", fired.EventPath).Msg("recurrence exhausted")
		return
	}
	next := &storage.Alarm{
		UserID:          fired.UserID,
		EventPath:       fired.EventPath,
		EventUID:        fired.EventUID,
		AlarmIndex:      fired.AlarmIndex,
		Action:          fired.Action,
		Attendee:        fired.Attendee,
		DueDate:         due,
		OccurrenceStart: occ.UTC(),
	}
	scheduled, err := s.isScheduled(ctx, next)
	if err != nil {
		s.logger.Error().Err(err).Str("path", fired.EventPath).Msg("failed to list alarms")
		return
	}
	if scheduled {
		s.logger.Debug().Str("path", fired.EventPath).Time("occurrence", next.OccurrenceStart).
			Msg("next alarm already scheduled")
		return
	}
	if err := s.store.CreateAlarm(ctx, next); err != nil {
		s.logger.Error().Err(err).Str("path", fired.EventPath).Msg("failed to schedule next alarm")
	}
}

// isScheduled reports whether a waiting row already covers the same
// occurrence of the master's alarm for the same recipient. It happens when
// the event was registered again while the fired alarm was running.
func (s *Service) isScheduled(ctx context.Context, next *storage.Alarm) (bool, error) {
	rows, err := s.store.ListAlarmsByEvent(ctx, next.EventPath)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.State == storage.AlarmWaiting &&
			r.RecurrenceID == "" &&
			r.AlarmIndex == next.AlarmIndex &&
			r.Attendee == next.Attendee &&
			r.OccurrenceStart.Equal(next.OccurrenceStart) {
			return true, nil
		}
	}
	return false, nil
}

// firstAlarm finds the first alarm of ev due strictly after now.
func (s *Service) firstAlarm(ev *ical.Event, a *ical.Alarm, now time.Time) (due, occ time.Time, ok bool) {
	if ev.IsOverride() || !ev.IsRecurring() || a.Trigger.Absolute != nil {
		due = singleAlarm(ev, a)
		return due, ev.Start.Time.UTC(), due.After(now)
	}
	// Start just before DTSTART so the first occurrence is a candidate.
	due, occ, ok = upcomingAlarm(ev, a, ev.Start.Time.Add(-time.Nanosecond), now)
	return due, occ.UTC(), ok
}

func (s *Service) schedule(ctx context.Context, userID, eventPath string, ev *ical.Event, idx int, a *ical.Alarm, due, occ time.Time) (int, error) {
	var rid string
	if ev.RecurrenceID != nil {
		rid = ev.RecurrenceID.UTC().Format(recurrenceIDFormat)
	}
	created := 0
	for _, to := range s.recipients(ctx, userID, a) {
		row := &storage.Alarm{
			UserID:          userID,
			EventPath:       eventPath,
			EventUID:        ev.UID,
			RecurrenceID:    rid,
			AlarmIndex:      idx,
			Action:          a.Action,
			Attendee:        to,
			DueDate:         due,
			OccurrenceStart: occ,
		}
		if err := s.store.CreateAlarm(ctx, row); err != nil {
			return created, fmt.Errorf("store alarm of %s: %w", eventPath, err)
		}
		created++
	}
	return created, nil
}

// recipients lists who receives an alarm. EMAIL alarms go to their
// ATTENDEEs, or to the owner's directory mail; other actions go to the owner.
func (s *Service) recipients(ctx context.Context, userID string, a *ical.Alarm) []string {
	if a.Action != ical.ActionEmail {
		return []string{userID}
	}
	var out []string
	for _, p := range a.Attendees {
		if p.Email != "" {
			out = append(out, p.Email)
		}
	}
	if len(out) > 0 {
		return out
	}
	if s.users != nil {
		u, err := s.users.LookupUser(ctx, userID)
		switch {
		case err == nil && u.Mail != "":
			return []string{u.Mail}
		case err != nil && !errors.Is(err, directory.ErrUserNotFound):
			s.logger.Warn().Err(err).Str("user", userID).Msg("directory lookup failed")
		}
	}
	return []string{userID}
}

var errTargetGone = errors.New("alarm: recurrence override not found")

func selectEvent(cal *ical.Calendar, recurrenceID string) (*ical.Event, error) {
	if recurrenceID == "" {
		ev := cal.Master()
		if ev == nil {
			return nil, ical.ErrNoEvent
		}
		return ev, nil
	}
	t, err := time.Parse(time.RFC3339Nano, recurrenceID)
	if err != nil {
		return nil, err
	}
	if ev := cal.Override(t); ev != nil {
		return ev, nil
	}
	return nil, errTargetGone
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
