package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/esn-calendar/internal/alarm"
	"github.com/sonroyaalmerol/esn-calendar/internal/app"
	"github.com/sonroyaalmerol/esn-calendar/internal/config"
	"github.com/sonroyaalmerol/esn-calendar/internal/logging"
)

type Server struct {
	http   *http.Server
	worker *alarm.Worker
	logger zerolog.Logger
}

func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	srv := &Server{logger: logger}
	if cfg.Alarm.Enabled {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			a.Close()
			return nil, nil, err
		}
		srv.worker, err = alarm.NewWorker(a.Alarms, cfg.Alarm.Schedule, logging.Component(logger, "alarm-worker"),
			alarm.WithLocation(loc),
			alarm.WithMaintenance(a.Purge),
		)
		if err != nil {
			a.Close()
			return nil, nil, err
		}
	}

	srv.http = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      newHandler(logging.Component(logger, "http")),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	cleanup := func() {
		a.Close()
	}
	logger.Info().Msgf("listening on %s (storage=%s, alarms=%t)", cfg.HTTP.Addr, cfg.Storage.Type, cfg.Alarm.Enabled)
	return srv, cleanup, nil
}

// Start runs the alarm worker, if any, and serves HTTP until Shutdown.
func (s *Server) Start() error {
	if s.worker != nil {
		s.worker.Start()
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		s.worker.Stop(ctx)
	}
	return s.http.Shutdown(ctx)
}
