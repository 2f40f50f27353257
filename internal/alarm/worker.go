package alarm

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Worker runs ProcessDue on a cron schedule. A run is skipped while the
// previous one is still going.
type Worker struct {
	svc      *Service
	cron     *cron.Cron
	logger   zerolog.Logger
	timeout  time.Duration
	loc      *time.Location
	maintain []func()

	ctx    context.Context
	cancel context.CancelFunc
}

type WorkerOption func(*Worker)

// WithLocation sets the zone the schedule is interpreted in. Default UTC.
func WithLocation(loc *time.Location) WorkerOption {
	return func(w *Worker) {
		if loc != nil {
			w.loc = loc
		}
	}
}

// WithMaintenance adds a function run after every tick, such as purging
// expired cache entries.
func WithMaintenance(fn func()) WorkerOption {
	return func(w *Worker) { w.maintain = append(w.maintain, fn) }
}

// NewWorker accepts standard five-field specs and descriptors such as
// "@every 1m".
func NewWorker(svc *Service, schedule string, logger zerolog.Logger, opts ...WorkerOption) (*Worker, error) {
	w := &Worker{svc: svc, logger: logger, timeout: 5 * time.Minute, loc: time.UTC}
	for _, opt := range opts {
		opt(w)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	cl := cronLogger{logger: logger}
	w.cron = cron.New(
		cron.WithLocation(w.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := w.cron.AddFunc(schedule, w.tick); err != nil {
		w.cancel()
		return nil, err
	}
	return w, nil
}

func (w *Worker) Start() {
	w.logger.Info().Str("location", w.loc.String()).Msg("alarm worker started")
	w.cron.Start()
}

// Stop stops scheduling and waits for a running tick or ctx. A tick still
// running when ctx is done has its context cancelled.
func (w *Worker) Stop(ctx context.Context) {
	defer w.cancel()
	done := w.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		w.logger.Warn().Msg("alarm worker stop timed out")
	}
}

func (w *Worker) tick() {
	defer w.runMaintenance()

	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	start := time.Now()
	n, err := w.svc.ProcessDue(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("alarm run failed")
		return
	}
	if n > 0 {
		w.logger.Info().
			Int("alarms", n).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("processed due alarms")
	}
}

func (w *Worker) runMaintenance() {
	if w.ctx.Err() != nil {
		return
	}
	for _, fn := range w.maintain {
		fn()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
