package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const alarmColumns = `id::text, user_id, event_path, event_uid, recurrence_id, alarm_index,
    action, attendee, due_date, occurrence_start, state, created_at, updated_at`

func (s *Store) CreateAlarm(ctx context.Context, a *storage.Alarm) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.State == "" {
		a.State = storage.AlarmWaiting
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, `
        insert into alarms (
          id, user_id, event_path, event_uid, recurrence_id, alarm_index,
          action, attendee, due_date, occurrence_start, state, created_at, updated_at
        ) values (
          $1::uuid, $2, $3, $4, $5, $6,
          $7, $8, $9, $10, $11, $12, $12
        )
    `, a.ID, a.UserID, a.EventPath, a.EventUID, a.RecurrenceID, a.AlarmIndex,
		a.Action, a.Attendee, a.DueDate.UTC(), a.OccurrenceStart.UTC(), string(a.State), now)
	return err
}

func (s *Store) ClaimDueAlarms(ctx context.Context, now time.Time, limit int) ([]*storage.Alarm, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
        update alarms set state = 'running', updated_at = now()
        where id in (
          select id from alarms
          where state = 'waiting' and due_date <= $1
          order by due_date
          limit $2
          for update skip locked
        )
        returning `+alarmColumns,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	alarms, err := scanAlarms(rows)
	if err != nil {
		return nil, err
	}
	sortAlarmsByDue(alarms)
	return alarms, nil
}

func (s *Store) UpdateAlarmState(ctx context.Context, id string, state storage.AlarmState) error {
	tag, err := s.pool.Exec(ctx, `
        update alarms set state = $2, updated_at = now()
        where id = $1::uuid
    `, id, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListAlarmsByEvent(ctx context.Context, eventPath string) ([]*storage.Alarm, error) {
	rows, err := s.pool.Query(ctx, `
        select `+alarmColumns+`
        from alarms
        where event_path = $1
        order by due_date, alarm_index
    `, eventPath)
	if err != nil {
		return nil, err
	}
	return scanAlarms(rows)
}

func (s *Store) DeleteAlarmsByEvent(ctx context.Context, eventPath string) error {
	_, err := s.pool.Exec(ctx, `
        delete from alarms
        where event_path = $1 and state <> 'running'
    `, eventPath)
	return err
}

func scanAlarms(rows pgx.Rows) ([]*storage.Alarm, error) {
	defer rows.Close()

	var out []*storage.Alarm
	for rows.Next() {
		var a storage.Alarm
		var state string
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.EventPath, &a.EventUID, &a.RecurrenceID, &a.AlarmIndex,
			&a.Action, &a.Attendee, &a.DueDate, &a.OccurrenceStart, &state, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.State = storage.AlarmState(state)
		a.DueDate = a.DueDate.UTC()
		a.OccurrenceStart = a.OccurrenceStart.UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

// sortAlarmsByDue orders alarms since RETURNING does not keep the subquery
// order.
func sortAlarmsByDue(alarms []*storage.Alarm) {
	sort.SliceStable(alarms, func(i, j int) bool {
		return alarms[i].DueDate.Before(alarms[j].DueDate)
	})
}
