package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/sonroyaalmerol/esn-calendar/internal/app"
	"github.com/sonroyaalmerol/esn-calendar/internal/caldav"
	"github.com/sonroyaalmerol/esn-calendar/internal/config"
	"github.com/sonroyaalmerol/esn-calendar/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup runs before exit.
func run(args []string) int {
	var (
		userID   string
		paths    string
		doIndex  bool
		doAlarms bool
		timeout  time.Duration
	)
	fs := flag.NewFlagSet("esn-calendar-sync", flag.ContinueOnError)
	fs.StringVar(&userID, "user", "", "User ID owning the events (required)")
	fs.StringVar(&paths, "paths", "", "Comma-separated event paths or UIDs in the default calendar (required)")
	fs.BoolVar(&doIndex, "index", true, "Index the events for search")
	fs.BoolVar(&doAlarms, "alarms", true, "Register the events' alarms")
	fs.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if userID == "" || paths == "" {
		fmt.Fprintln(os.Stderr, "usage: esn-calendar-sync -user <uid> -paths <path,...> [-index=false] [-alarms=false]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := logging.Component(logging.New(cfg.LogLevel), "sync")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		return 1
	}
	defer a.Close()

	eventPaths := splitPaths(userID, a.DAV.DefaultCalendar(), paths)

	if doIndex {
		res, err := a.Indexer.IndexPaths(ctx, userID, eventPaths)
		if err != nil {
			fmt.Fprintf(os.Stderr, "index: %v\n", err)
			return 1
		}
		fmt.Printf("indexed %d/%d events (%d records, %d failed)\n",
			res.Events, res.Requested, res.Records, len(res.Failed))
	}

	if doAlarms {
		events, err := a.DAV.GetMultipleEventsFromPaths(ctx, userID, eventPaths)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
			return 1
		}
		total := 0
		for _, ev := range events {
			n, err := a.Alarms.RegisterEvent(ctx, userID, ev.Path, ev.ICal)
			if err != nil {
				logger.Warn().Err(err).Str("path", ev.Path).Msg("failed to register alarms")
				continue
			}
			total += n
		}
		fmt.Printf("registered %d alarms for %d events\n", total, len(events))
	}

	logger.Info().
		Str("user", userID).
		Int("paths", len(eventPaths)).
		Bool("index", doIndex).
		Bool("alarms", doAlarms).
		Msg("sync finished")
	return 0
}

// splitPaths accepts full event paths or bare UIDs, which are resolved in the
// default calendar.
func splitPaths(userID, calendarID, raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			continue
		case strings.HasPrefix(p, "/"):
			out = append(out, p)
		default:
			out = append(out, caldav.EventPath(userID, calendarID, strings.TrimSuffix(p, ".ics")))
		}
	}
	return out
}
