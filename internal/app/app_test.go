package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DAV:     config.DAVConfig{URL: "http://localhost:8001", Timeout: time.Second, DefaultCalendar: "events"},
		Auth:    config.AuthConfig{TokenSecret: "secret", TokenIssuer: "esn", TokenTTL: time.Minute},
		Storage: config.StorageConfig{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "calendar.db")},
		Alarm:   config.AlarmConfig{Schedule: "@every 1m", BatchSize: 10},
		ICS:     config.ICSConfig{CompanyName: "Linagora", ProductName: "ESN Calendar", Language: "EN"},
	}
}

func TestNew_SQLite(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Directory)
	assert.NotNil(t, a.Alarms)
	assert.NotNil(t, a.Indexer)
	assert.Equal(t, "events", a.DAV.DefaultCalendar())

	tok, err := a.Tokens.Token(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	a.Purge()
	again, err := a.Tokens.Token(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, tok, again)
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "mongo"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown storage type")

	cfg = testConfig(t)
	cfg.Auth.TokenSecret = ""
	_, err = New(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "token issuer")

	cfg = testConfig(t)
	cfg.DAV.URL = "ftp://dav"
	_, err = New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
