// daycap is a day planner that keeps each day to a small number of tasks.
//
// With no subcommand it opens the terminal UI. The add, list, done and
// rollover subcommands work on the same store from scripts, and watch runs
// the daily rollover headless.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"daycap/internal/config"
	"daycap/internal/rollover"
	"daycap/internal/schedule"
	"daycap/internal/storage"
	"daycap/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
	backend    string
	logLevel   string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts globalOptions
	flagSet := pflag.NewFlagSet("daycap", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&opts.configPath, "config", "", "config file (default: $DAYCAP_CONFIG or ~/.config/daycap/config.toml)")
	flagSet.StringVar(&opts.backend, "backend", "", "storage backend, sqlite or redis (overrides the config file)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level (overrides the config file)")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	rest := flagSet.Args()
	command := ""
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}
	if command == "help" {
		printUsage(stdout, flagSet)
		return nil
	}
	tui := command == ""

	a, err := openApp(ctx, opts, stdout, stderr, tui)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "":
		return ui.Run(a.sched, a.job, a.cfg)
	case "add":
		return a.add(rest)
	case "list", "ls":
		return a.list(rest)
	case "done":
		return a.done(rest)
	case "rollover":
		return a.rollover(rest)
	case "watch":
		return a.watch(ctx)
	default:
		return fmt.Errorf("unknown command %q (try 'daycap help')", command)
	}
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: daycap [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  (none)                          open the planner")
	fmt.Fprintln(w, "  add TEXT [--date D] [--urgent] [--important]")
	fmt.Fprintln(w, "  list [--date D | --backlog | --week]")
	fmt.Fprintln(w, "  done ID")
	fmt.Fprintln(w, "  rollover [--force D]")
	fmt.Fprintln(w, "  watch                           run the daily rollover until interrupted")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fmt.Fprint(w, flagSet.FlagUsages())
}

type app struct {
	cfg        config.Config
	configPath string
	backend    storage.Backend
	sched      *schedule.Scheduler
	job        *rollover.Job
	out        io.Writer
	logFile    *os.File
}

func openApp(ctx context.Context, opts globalOptions, stdout, stderr io.Writer, tui bool) (*app, error) {
	configPath := opts.configPath
	if configPath == "" {
		configPath = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, configPath: configPath, out: stdout}
	if err := a.setupLogging(stderr, tui); err != nil {
		return nil, err
	}

	a.backend, err = openBackend(ctx, cfg, configPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sched = schedule.New(schedule.Options{
		Backend:    a.backend,
		Cap:        cfg.Planner.DayCap,
		UndoTTL:    cfg.Planner.UndoTTL.Duration,
		FlushDelay: a.flushDelay(tui),
	})
	if err := a.sched.Load(); err != nil {
		if tui {
			// The UI shows the banner and keeps working from memory.
			log.Warn().Err(err).Msg("starting with an empty task list")
		} else {
			a.Close()
			return nil, err
		}
	}
	a.job = rollover.New(rollover.Options{
		Scheduler: a.sched,
		Backend:   a.backend,
		Owner:     uuid.NewString(),
		LockTTL:   cfg.Rollover.LockTTL.Duration,
		Interval:  cfg.Rollover.Interval.Duration,
	})
	return a, nil
}

// flushDelay debounces writes only in the UI; one-shot commands write
// straight away.
func (a *app) flushDelay(tui bool) time.Duration {
	if tui {
		return a.cfg.Planner.FlushDelay.Duration
	}
	return 0
}

func (a *app) setupLogging(stderr io.Writer, tui bool) error {
	level, err := zerolog.ParseLevel(strings.ToLower(a.cfg.Log.Level))
	if err != nil || a.cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !tui {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		return nil
	}
	// The terminal belongs to the UI, so logs go to a file.
	f, err := os.OpenFile(a.cfg.ResolveLogPath(a.configPath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	a.logFile = f
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, configPath string) (storage.Backend, error) {
	if cfg.Backend == config.BackendRedis {
		r, err := storage.OpenRedis(ctx, storage.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	db, err := storage.OpenSQLite(cfg.ResolveDBPath(configPath))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (a *app) Close() {
	if a.sched != nil {
		if err := a.sched.Close(); err != nil {
			log.Error().Err(err).Msg("final save failed")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			log.Warn().Err(err).Msg("close storage")
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
