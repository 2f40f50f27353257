package httpserver

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

func serverConfig(t *testing.T) *config.Config {
	return &config.Config{
		Timezone: "Europe/Berlin",
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0"},
		DAV:      config.DAVConfig{URL: "http://localhost:8001", Timeout: time.Second, DefaultCalendar: "events"},
		Auth:     config.AuthConfig{TokenSecret: "secret", TokenIssuer: "esn", TokenTTL: time.Minute},
		Storage:  config.StorageConfig{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "calendar.db")},
		Alarm:    config.AlarmConfig{Enabled: true, Schedule: "@every 1m", BatchSize: 10},
	}
}

func TestNewServer_WithAlarmWorker(t *testing.T) {
	srv, cleanup, err := NewServer(context.Background(), serverConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, srv.worker)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestNewServer_InvalidTimezone(t *testing.T) {
	cfg := serverConfig(t)
	cfg.Timezone = "Mars/Olympus_Mons"
	_, _, err := NewServer(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
