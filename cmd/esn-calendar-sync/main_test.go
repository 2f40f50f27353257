package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPaths(t *testing.T) {
	got := splitPaths("u1", "events", " /calendars/u1/work/a.ics, b.ics ,,c ")
	assert.Equal(t, []string{
		"/calendars/u1/work/a.ics",
		"/calendars/u1/events/b.ics",
		"/calendars/u1/events/c.ics",
	}, got)

	assert.Empty(t, splitPaths("u1", "events", " , "))
}

func TestRun_Usage(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"-user", "u1"}))
	assert.Equal(t, 2, run([]string{"-nope"}))
}

func TestRun_ExitCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LDAP_URL", "")
	t.Setenv("DAV_URL", srv.URL)
	t.Setenv("AUTH_TOKEN_SECRET", "secret")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "calendar.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TZ", "UTC")

	assert.Equal(t, 1, run([]string{"-user", "u1", "-paths", "ev-1", "-index=false"}))
	assert.Equal(t, 0, run([]string{"-user", "u1", "-paths", "ev-1", "-index=false", "-alarms=false"}))

	t.Setenv("STORAGE_TYPE", "mongo")
	assert.Equal(t, 1, run([]string{"-user", "u1", "-paths", "ev-1"}))
}
