package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"planner/internal/agenda"
	"planner/internal/clock"
	"planner/internal/config"
	"planner/internal/ics"
	appLog "planner/internal/log"
	"planner/internal/recurrence"
	"planner/internal/store"
	"planner/internal/web"
)

const version = "0.1.0"

func main() {
	// .env is optional.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("planner failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "planner",
		Usage:   "Expand recurring tasks and events, serve them over HTTP and sync ICS subscriptions.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/etc/planner/config.yaml",
				EnvVars: []string{"PLANNER_CONFIG"},
				Usage:   "Path to config file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Usage:   "debug, info or error (overrides config)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			syncCommand(),
			expandCommand(),
			dueCommand(),
		},
	}
}

// loadConfig reads the config named by --config and applies the log level.
// A config that could not be written back on first run is still used.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if cfg == nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		appLog.Error("failed to write default config; continuing with defaults", err, "config_path", path)
	}

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the scheduled calendar sync.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
			&cli.BoolFlag{Name: "sync-now", Value: true, Usage: "Sync subscriptions once at startup"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}

			st, err := store.Open(cfg.DataPath)
			if err != nil {
				return err
			}

			loc := cfg.Location()
			clk := clock.Real()
			svc := agenda.NewService(st, clk, loc)
			srv := web.NewServer(cfg, st, svc, clk)
			syncer := ics.NewSyncer(ics.NewFetcher(cfg.CacheDir, nil), st, ics.SourcesFromConfig(cfg.Calendars))

			appLog.Info("effective config",
				"version", version,
				"listen", cfg.Listen,
				"timezone", loc.String(),
				"week_start", cfg.WeekStart,
				"data_path", cfg.DataPath,
				"sync", cfg.SyncCron,
				"calendars", len(cfg.Calendars),
			)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runSync := func() {
				if _, err := syncer.Sync(ctx); err != nil {
					appLog.Error("calendar sync finished with errors", err)
				}
				srv.InvalidateCache()
			}

			sched := cron.New(
				cron.WithLocation(loc),
				cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
			)
			if len(cfg.Calendars) > 0 {
				if _, err := sched.AddFunc(cfg.SyncCron, runSync); err != nil {
					return fmt.Errorf("schedule sync %q: %w", cfg.SyncCron, err)
				}
				sched.Start()
				if c.Bool("sync-now") {
					go runSync()
				}
			}

			err = srv.Run(ctx)

			// Let an in-flight sync finish before exiting.
			<-sched.Stop().Done()
			appLog.Info("planner exiting")
			return err
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync every subscribed calendar into the data file once.",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			sources := ics.SourcesFromConfig(cfg.Calendars)
			if len(sources) == 0 {
				return errors.New("no calendars configured")
			}

			st, err := store.Open(cfg.DataPath)
			if err != nil {
				return err
			}

			report, err := ics.NewSyncer(ics.NewFetcher(cfg.CacheDir, nil), st, sources).Sync(c.Context)
			fmt.Fprintf(c.App.Writer, "synced %d, failed %d, imported %d events\n",
				report.Synced, report.Failed, report.Imported)
			return err
		},
	}
}

func expandCommand() *cli.Command {
	return &cli.Command{
		Name:  "expand",
		Usage: "Print the occurrences of an ad-hoc series within a window.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "anchor", Required: true, Usage: "First occurrence start (RFC 3339 or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "end", Usage: "First occurrence end; defaults to the anchor"},
			&cli.StringFlag{Name: "rule", Value: string(recurrence.None), Usage: "none, daily, weekly, bi_weekly, monthly, yearly or customized"},
			&cli.StringFlag{Name: "rrule", Usage: "RRULE expanded when the rule is customized"},
			&cli.StringFlag{Name: "from", Required: true, Usage: "Window start"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "Window end (a bare date covers the whole day)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			loc := cfg.Location()

			anchor, err := agenda.ParseTime(c.String("anchor"), loc, false)
			if err != nil {
				return fmt.Errorf("anchor: %w", err)
			}
			end := anchor
			if v := c.String("end"); v != "" {
				if end, err = agenda.ParseTime(v, loc, false); err != nil {
					return fmt.Errorf("end: %w", err)
				}
			}
			from, err := agenda.ParseTime(c.String("from"), loc, false)
			if err != nil {
				return fmt.Errorf("from: %w", err)
			}
			to, err := agenda.ParseTime(c.String("to"), loc, true)
			if err != nil {
				return fmt.Errorf("to: %w", err)
			}
			if err := (agenda.Window{Start: from, End: to}).Validate(); err != nil {
				return err
			}

			rule, ok := recurrence.LookupRule(c.String("rule"))
			if !ok {
				return fmt.Errorf("rule: unknown rule %q", c.String("rule"))
			}
			if c.String("rrule") != "" && !c.IsSet("rule") {
				rule = recurrence.Custom
			}

			series := recurrence.Series{Start: anchor, End: end, Rule: rule, RRule: c.String("rrule")}
			occ, truncated, err := series.Expand(from, to)
			if err != nil {
				return err
			}

			for _, o := range occ {
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", o.Start.In(loc).Format(time.RFC3339), o.End.In(loc).Format(time.RFC3339))
			}
			if truncated {
				appLog.Info("expansion truncated", "cap", recurrence.MaxOccurrences)
			}
			return nil
		},
	}
}

func dueCommand() *cli.Command {
	return &cli.Command{
		Name:  "due",
		Usage: "List tasks due in a workspace, today by default.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Required: true},
			&cli.StringFlag{Name: "date", Usage: "First day (YYYY-MM-DD); defaults to today"},
			&cli.IntFlag{Name: "days", Value: 1, Usage: "Number of days to list"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DataPath)
			if err != nil {
				return err
			}

			loc := cfg.Location()
			clk := clock.Real()
			svc := agenda.NewService(st, clk, loc)

			first := clk.Now()
			if v := c.String("date"); v != "" {
				if first, err = time.ParseInLocation(agenda.DateLayout, v, loc); err != nil {
					return fmt.Errorf("date: %w", err)
				}
			}

			tasks, err := svc.DueTasks(c.Context, c.String("workspace"), agenda.Days(first, loc, c.Int("days")))
			if err != nil {
				return err
			}
			for _, t := range tasks {
				title := t.Title
				if t.PlanTitle != "" {
					title += " (" + t.PlanTitle + ")"
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", t.DueAt.Format("2006-01-02 15:04"), t.Label, title)
			}
			return nil
		},
	}
}
