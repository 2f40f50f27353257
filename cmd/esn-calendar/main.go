package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sonroyaalmerol/esn-calendar/internal/config"
	"github.com/sonroyaalmerol/esn-calendar/internal/httpserver"
	"github.com/sonroyaalmerol/esn-calendar/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel)

	srv, cleanup, err := httpserver.NewServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("server init failed")
		return 1
	}
	defer cleanup()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case <-ch:
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server stopped with error")
			code = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("bye")
	return code
}
