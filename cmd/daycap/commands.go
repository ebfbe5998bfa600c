package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"daycap/internal/clock"
	"daycap/internal/rollover"
	"daycap/internal/schedule"
)

// userError shows the planner's short message while keeping the cause for
// errors.Is.
type userError struct {
	err error
}

func (e *userError) Error() string { return schedule.UserMessage(e.err) }

func (e *userError) Unwrap() error { return e.err }

func friendly(err error) error {
	if err == nil {
		return nil
	}
	return &userError{err: err}
}

func (a *app) add(args []string) error {
	var dateFlag string
	var flags schedule.Flags
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	fs.StringVar(&dateFlag, "date", "", "day to plan the task for: today, tomorrow or YYYY-MM-DD (default: backlog)")
	fs.BoolVar(&flags.Urgent, "urgent", false, "mark urgent")
	fs.BoolVar(&flags.Important, "important", false, "mark important")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")

	var date *clock.DayKey
	if dateFlag != "" {
		d, err := a.parseDay(dateFlag)
		if err != nil {
			return err
		}
		date = &d
	}

	task, err := a.sched.Add(text, date, flags)
	if err != nil {
		return friendly(err)
	}
	fmt.Fprintf(a.out, "added %s %s\n", task.ID, a.where(task))
	for _, bumped := range a.sched.List() {
		if bumped.ReplacedByID == task.ID {
			fmt.Fprintf(a.out, "moved completed %s %q to the backlog\n", bumped.ID, bumped.Text)
		}
	}
	return nil
}

func (a *app) list(args []string) error {
	var dateFlag string
	var backlog, week bool
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	fs.StringVar(&dateFlag, "date", "", "day to list (default: today)")
	fs.BoolVar(&backlog, "backlog", false, "list undated tasks")
	fs.BoolVar(&week, "week", false, "list the current week")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var tasks []schedule.Task
	switch {
	case backlog:
		tasks = a.sched.ListBacklog()
	case week:
		now := a.sched.Clock().Now().In(a.sched.Location())
		tasks = a.sched.ListBetween(clock.WeekRange(now, a.cfg.WeekStart()))
	default:
		day := a.sched.Today()
		if dateFlag != "" {
			var err error
			if day, err = a.parseDay(dateFlag); err != nil {
				return err
			}
		}
		tasks = a.sched.ListByDay(day)
		fmt.Fprintf(a.out, "%s  %d/%d\n", day.Format(a.sched.Location()), len(tasks), a.sched.Cap())
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tDAY\tFLAGS\tTEXT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.State, a.dayColumn(t), flagColumn(t.Flags), t.Text)
	}
	return tw.Flush()
}

func (a *app) done(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: daycap done ID")
	}
	id, err := a.resolveID(args[0])
	if err != nil {
		return err
	}
	if err := a.sched.Complete(id); err != nil {
		return friendly(err)
	}
	fmt.Fprintf(a.out, "completed %s\n", id)
	return nil
}

func (a *app) rollover(args []string) error {
	var force string
	fs := pflag.NewFlagSet("rollover", pflag.ContinueOnError)
	fs.StringVar(&force, "force", "", "sweep this day even if today's rollover already ran")
	if err := fs.Parse(args); err != nil {
		return err
	}
	loc := a.sched.Location()

	if force != "" {
		day, err := a.parseDay(force)
		if err != nil {
			return err
		}
		res, err := a.job.Force(day)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "rolled %s: moved %d\n", day.Format(loc), len(res.MovedIDs))
		return nil
	}

	res, err := a.job.Tick()
	if err != nil {
		return err
	}
	if res.Skipped != rollover.NotSkipped {
		fmt.Fprintf(a.out, "skipped: %s\n", res.Skipped)
		return nil
	}
	fmt.Fprintf(a.out, "rolled %s: moved %d\n", res.Day.Format(loc), len(res.MovedIDs))
	return nil
}

func (a *app) watch(ctx context.Context) error {
	log.Info().
		Str("owner", a.job.Owner()).
		Dur("interval", a.cfg.Rollover.Interval.Duration).
		Msg("watching for rollover")
	err := a.job.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("watch stopped")
		return nil
	}
	return err
}

func (a *app) parseDay(s string) (clock.DayKey, error) {
	loc := a.sched.Location()
	today := a.sched.Today()
	switch strings.ToLower(s) {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDays(1, loc), nil
	case "yesterday":
		return today.AddDays(-1, loc), nil
	}
	return clock.ParseDay(s, loc)
}

// resolveID accepts a full id or an unambiguous prefix of one.
func (a *app) resolveID(prefix string) (string, error) {
	if _, ok := a.sched.Get(prefix); ok {
		return prefix, nil
	}
	var matches []string
	for _, t := range a.sched.List() {
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", friendly(fmt.Errorf("%s: %w", prefix, schedule.ErrNotFound))
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %q matches %d tasks", prefix, len(matches))
	}
}

func (a *app) where(t schedule.Task) string {
	if t.Date == nil {
		return "to the backlog"
	}
	return "for " + t.Date.Format(a.sched.Location())
}

func (a *app) dayColumn(t schedule.Task) string {
	if t.Date == nil {
		if t.RolledFromDate != nil {
			return "backlog (from " + t.RolledFromDate.Format(a.sched.Location()) + ")"
		}
		return "backlog"
	}
	return t.Date.Format(a.sched.Location())
}

func flagColumn(f schedule.Flags) string {
	var parts []string
	if f.Urgent {
		parts = append(parts, "urgent")
	}
	if f.Important {
		parts = append(parts, "important")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
