// Package rollover runs the once-a-day sweep of yesterday's unfinished
// tasks back to the backlog.
//
// Several processes may share one store. The last completed day is kept
// under LastRunKey and the sweep itself runs under an advisory lock kept
// under LockKey, so only one process moves a given day and a failed sweep
// is retried on the next tick.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"daycap/internal/clock"
	"daycap/internal/schedule"
	"daycap/internal/storage"
)

const (
	LastRunKey = "sys.lastRolloverDayKey.v1"
	LockKey    = "sys.rolloverLock.v1"

	DefaultInterval = time.Minute
	DefaultLockTTL  = 30 * time.Second
)

var ErrLockHeld = errors.New("rollover lock held by another process")

type State int

const (
	Idle State = iota
	Running
	DoneForToday
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case DoneForToday:
		return "done-for-today"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Skip says why a tick did not sweep.
type Skip string

const (
	NotSkipped       Skip = ""
	SkipDoneForToday Skip = "done-for-today"
	SkipLockHeld     Skip = "lock-held"
)

type TickResult struct {
	Skipped  Skip
	Day      clock.DayKey
	MovedIDs []string
}

type Options struct {
	Scheduler *schedule.Scheduler
	// Backend holds the bookkeeping and lock keys. It is normally the
	// scheduler's own store.
	Backend  storage.Backend
	Clock    clock.Clock
	Owner    string
	LockTTL  time.Duration
	Interval time.Duration
}

type Job struct {
	sched    *schedule.Scheduler
	backend  storage.Backend
	clock    clock.Clock
	loc      *time.Location
	lock     *storage.Mutex
	interval time.Duration

	mu      sync.Mutex
	state   State
	visible bool
	wake    chan struct{}

	// tickMu keeps ticks from Run and from a caller such as the UI from
	// overlapping.
	tickMu sync.Mutex
}

func New(opts Options) *Job {
	j := &Job{
		sched:    opts.Scheduler,
		backend:  opts.Backend,
		clock:    opts.Clock,
		interval: opts.Interval,
		visible:  true,
		wake:     make(chan struct{}, 1),
	}
	if j.clock == nil {
		j.clock = j.sched.Clock()
	}
	if j.interval <= 0 {
		j.interval = DefaultInterval
	}
	owner := opts.Owner
	if owner == "" {
		owner = uuid.NewString()
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	j.loc = j.sched.Location()
	j.lock = storage.NewMutex(j.backend, LockKey, owner, ttl, j.clock)
	return j
}

func (j *Job) Owner() string { return j.lock.Owner() }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// LastRun returns the last day a sweep completed for, if any.
func (j *Job) LastRun() (clock.DayKey, bool, error) {
	k, err := storage.ReadWithBackup[clock.DayKey](j.backend, LastRunKey)
	if err != nil {
		return 0, false, fmt.Errorf("rollover.LastRun: %w", err)
	}
	if k == nil {
		return 0, false, nil
	}
	return *k, true, nil
}

// Tick sweeps yesterday unless today is already done or another process
// holds the lock. On error the bookkeeping key is left alone so the next
// tick tries again.
func (j *Job) Tick() (TickResult, error) {
	j.tickMu.Lock()
	defer j.tickMu.Unlock()

	today := clock.Today(j.clock, j.loc)
	yesterday := today.AddDays(-1, j.loc)

	done, err := j.doneFor(today)
	if err != nil {
		j.setState(Idle)
		return TickResult{}, err
	}
	if done {
		j.setState(DoneForToday)
		return TickResult{Skipped: SkipDoneForToday, Day: yesterday}, nil
	}

	ok, err := j.lock.TryLock()
	if err != nil {
		j.setState(Idle)
		return TickResult{}, fmt.Errorf("rollover.Tick: %w", err)
	}
	if !ok {
		j.setState(Idle)
		log.Debug().Str("day", yesterday.Format(j.loc)).Msg("rollover lock held elsewhere, skipping tick")
		return TickResult{Skipped: SkipLockHeld, Day: yesterday}, nil
	}
	defer j.unlock()

	// Another process may have finished between the check and the lock.
	if done, err = j.doneFor(today); err != nil {
		j.setState(Idle)
		return TickResult{}, err
	} else if done {
		j.setState(DoneForToday)
		return TickResult{Skipped: SkipDoneForToday, Day: yesterday}, nil
	}

	j.setState(Running)
	res, err := j.sweep(yesterday)
	if err != nil {
		j.setState(Idle)
		return TickResult{Day: yesterday, MovedIDs: []string{}}, fmt.Errorf("rollover.Tick: %w", err)
	}
	if err := storage.AtomicJSONWrite(j.backend, LastRunKey, today); err != nil {
		j.setState(Idle)
		log.Error().Err(err).Str("day", today.Format(j.loc)).Msg("rollover done but bookkeeping not saved")
		return TickResult{Day: yesterday, MovedIDs: res.MovedIDs}, fmt.Errorf("rollover.Tick: %w", err)
	}
	j.setState(DoneForToday)
	return TickResult{Day: yesterday, MovedIDs: res.MovedIDs}, nil
}

// Force sweeps day regardless of the last-run record. It still takes the
// lock and does not touch the record.
func (j *Job) Force(day clock.DayKey) (schedule.RolloverResult, error) {
	j.tickMu.Lock()
	defer j.tickMu.Unlock()

	ok, err := j.lock.TryLock()
	if err != nil {
		return schedule.RolloverResult{}, fmt.Errorf("rollover.Force: %w", err)
	}
	if !ok {
		return schedule.RolloverResult{}, fmt.Errorf("rollover.Force %s: %w", day.Format(j.loc), ErrLockHeld)
	}
	defer j.unlock()

	res, err := j.sweep(day)
	if err != nil {
		return res, fmt.Errorf("rollover.Force: %w", err)
	}
	return res, nil
}

func (j *Job) doneFor(today clock.DayKey) (bool, error) {
	last, ok, err := j.LastRun()
	if err != nil {
		return false, err
	}
	return ok && last == today, nil
}

// sweep moves the day and makes sure the moved tasks are on disk before
// the caller records the day as done.
func (j *Job) sweep(day clock.DayKey) (schedule.RolloverResult, error) {
	res, err := j.sched.RolloverMove(day)
	if err != nil {
		return res, err
	}
	if err := j.sched.Flush(); err != nil {
		return res, err
	}
	log.Info().
		Str("day", day.Format(j.loc)).
		Int("moved", len(res.MovedIDs)).
		Str("owner", j.Owner()).
		Msg("rollover complete")
	return res, nil
}

func (j *Job) unlock() {
	if err := j.lock.Unlock(); err != nil {
		log.Warn().Err(err).Msg("rollover unlock failed")
	}
}

// SetVisible pauses the periodic tick while false. Becoming visible again
// triggers an immediate tick.
func (j *Job) SetVisible(v bool) {
	j.mu.Lock()
	changed := j.visible != v
	j.visible = v
	j.mu.Unlock()
	if !changed {
		return
	}
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *Job) Visible() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.visible
}

// Run ticks once immediately and then every interval until ctx is done.
func (j *Job) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	paused := !j.Visible()
	if paused {
		ticker.Stop()
	} else {
		j.runTick()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.runTick()
		case <-j.wake:
			visible := j.Visible()
			switch {
			case visible && paused:
				paused = false
				ticker.Reset(j.interval)
				j.runTick()
			case !visible && !paused:
				paused = true
				ticker.Stop()
			}
		}
	}
}

func (j *Job) runTick() {
	res, err := j.Tick()
	if err != nil {
		log.Error().Err(err).Msg("rollover tick failed")
		return
	}
	if res.Skipped == NotSkipped {
		log.Debug().Str("day", res.Day.Format(j.loc)).Strs("moved", res.MovedIDs).Msg("rollover tick")
	}
}
