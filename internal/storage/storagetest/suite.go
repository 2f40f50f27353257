// Package storagetest holds the behaviour every storage.Store backend must
// satisfy.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("AlarmLifecycle", func(t *testing.T) { testAlarmLifecycle(t, newStore(t)) })
	t.Run("ClaimIsExclusive", func(t *testing.T) { testClaimIsExclusive(t, newStore(t)) })
	t.Run("DeleteKeepsRunning", func(t *testing.T) { testDeleteKeepsRunning(t, newStore(t)) })
	t.Run("IndexUpsertAndSearch", func(t *testing.T) { testIndexUpsertAndSearch(t, newStore(t)) })
}

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func alarm(path string, due time.Duration) *storage.Alarm {
	return &storage.Alarm{
		UserID:          "u1",
		EventPath:       path,
		EventUID:        "uid-" + path,
		Action:          "EMAIL",
		Attendee:        "u1@example.org",
		DueDate:         base.Add(due),
		OccurrenceStart: base.Add(due + 5*time.Minute),
	}
}

func testAlarmLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()

	later := alarm("/calendars/u1/c/a.ics", time.Hour)
	sooner := alarm("/calendars/u1/c/a.ics", 0)
	sooner.AlarmIndex = 1
	future := alarm("/calendars/u1/c/b.ics", 48*time.Hour)

	for _, a := range []*storage.Alarm{later, sooner, future} {
		require.NoError(t, s.CreateAlarm(ctx, a))
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, storage.AlarmWaiting, a.State)
	}

	listed, err := s.ListAlarmsByEvent(ctx, "/calendars/u1/c/a.ics")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, sooner.ID, listed[0].ID)
	assert.True(t, listed[0].DueDate.Equal(sooner.DueDate))
	assert.True(t, listed[0].OccurrenceStart.Equal(sooner.OccurrenceStart))
	assert.Equal(t, 1, listed[0].AlarmIndex)
	assert.Equal(t, "u1@example.org", listed[0].Attendee)

	claimed, err := s.ClaimDueAlarms(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, sooner.ID, claimed[0].ID)
	assert.Equal(t, later.ID, claimed[1].ID)
	assert.Equal(t, storage.AlarmRunning, claimed[0].State)

	again, err := s.ClaimDueAlarms(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.UpdateAlarmState(ctx, sooner.ID, storage.AlarmDone))
	require.NoError(t, s.UpdateAlarmState(ctx, later.ID, storage.AlarmFailed))
	assert.ErrorIs(t, s.UpdateAlarmState(ctx, "00000000-0000-0000-0000-000000000000", storage.AlarmDone), storage.ErrNotFound)

	listed, err = s.ListAlarmsByEvent(ctx, "/calendars/u1/c/a.ics")
	require.NoError(t, err)
	assert.Equal(t, storage.AlarmDone, listed[0].State)
	assert.Equal(t, storage.AlarmFailed, listed[1].State)

	none, err := s.ClaimDueAlarms(ctx, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testClaimIsExclusive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateAlarm(ctx, alarm("/calendars/u1/c/x.ics", time.Duration(i)*time.Minute)))
	}

	first, err := s.ClaimDueAlarms(ctx, base.Add(time.Hour), 3)
	require.NoError(t, err)
	second, err := s.ClaimDueAlarms(ctx, base.Add(time.Hour), 3)
	require.NoError(t, err)

	require.Len(t, first, 3)
	require.Len(t, second, 2)
	seen := map[string]bool{}
	for _, a := range append(first, second...) {
		assert.False(t, seen[a.ID], "alarm %s claimed twice", a.ID)
		seen[a.ID] = true
	}
	assert.True(t, first[2].DueDate.Before(second[0].DueDate))
}

func testDeleteKeepsRunning(t *testing.T, s storage.Store) {
	ctx := context.Background()
	path := "/calendars/u1/c/d.ics"

	running := alarm(path, 0)
	waiting := alarm(path, 24*time.Hour)
	require.NoError(t, s.CreateAlarm(ctx, running))
	require.NoError(t, s.CreateAlarm(ctx, waiting))

	claimed, err := s.ClaimDueAlarms(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.DeleteAlarmsByEvent(ctx, path))

	left, err := s.ListAlarmsByEvent(ctx, path)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, running.ID, left[0].ID)
}

func testIndexUpsertAndSearch(t *testing.T, s storage.Store) {
	ctx := context.Background()

	put := func(cal, uid, rid, summary, location string, start time.Time) {
		require.NoError(t, s.PutIndexedEvent(ctx, &storage.IndexedEvent{
			UserID:       "u1",
			CalendarID:   cal,
			UID:          uid,
			RecurrenceID: rid,
			Summary:      summary,
			Location:     location,
			Start:        start,
			End:          start.Add(time.Hour),
			Document:     []byte(`{"uid":"` + uid + `"}`),
		}))
	}

	put("events", "a", "", "Team Standup", "", base)
	put("events", "a", "2024-01-02T10:00:00.000Z", "Team Standup (moved)", "", base.Add(24*time.Hour))
	put("work", "b", "", "Budget review", "Room 100%", base.Add(2*time.Hour))
	put("events", "c", "", "Lunch", "Cafeteria", base.Add(time.Hour))
	require.NoError(t, s.PutIndexedEvent(ctx, &storage.IndexedEvent{
		UserID: "u2", CalendarID: "events", UID: "z", Summary: "standup elsewhere",
		Start: base, End: base, Document: []byte(`{}`),
	}))

	all, err := s.SearchIndexedEvents(ctx, storage.SearchQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"a", "c", "b", "a"}, uids(all))
	assert.True(t, all[0].Start.Equal(base))
	assert.JSONEq(t, `{"uid":"a"}`, string(all[0].Document))

	hits, err := s.SearchIndexedEvents(ctx, storage.SearchQuery{UserID: "u1", Text: "STANDUP"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.SearchIndexedEvents(ctx, storage.SearchQuery{UserID: "u1", Text: "100%"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].UID)

	hits, err = s.SearchIndexedEvents(ctx, storage.SearchQuery{UserID: "u1", CalendarIDs: []string{"work"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, uids(hits))

	page, err := s.SearchIndexedEvents(ctx, storage.SearchQuery{UserID: "u1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, uids(page))

	put("events", "c", "", "Dinner", "Cafeteria", base.Add(time.Hour))
	hits, err = s.SearchIndexedEvents(ctx, storage.SearchQuery{UserID: "u1", Text: "dinner"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].UID)

	require.NoError(t, s.DeleteIndexedEvents(ctx, "u1", "events", "a"))
	all, err = s.SearchIndexedEvents(ctx, storage.SearchQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, uids(all))
}

func uids(evs []*storage.IndexedEvent) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.UID)
	}
	return out
}
