// Package schedule owns the task collection and enforces the per-day cap.
//
// A day holds at most Cap tasks that are not deleted. When a day is full,
// adding or moving a task into it evicts the day's oldest completed task to
// the backlog; if the day has no completed task the operation fails with
// ErrCap and changes nothing. Every successful mutation is recorded with
// the undo ledger as one step.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"daycap/internal/clock"
	"daycap/internal/storage"
	"daycap/internal/undo"
)

const (
	TasksKey          = "tasks.v1"
	DefaultCap        = 3
	DefaultFlushDelay = 250 * time.Millisecond
)

type Options struct {
	Backend  storage.Backend
	Clock    clock.Clock
	Location *time.Location
	Cap      int
	UndoTTL  time.Duration
	// FlushDelay debounces writes. Zero writes synchronously after every
	// mutation; negative means DefaultFlushDelay.
	FlushDelay time.Duration
	NewID      func() string
}

// Scheduler is safe for concurrent use. Operations run to completion under
// one lock; persistence happens after the lock is released.
type Scheduler struct {
	mu      sync.Mutex
	flushMu sync.Mutex

	backend    storage.Backend
	clock      clock.Clock
	loc        *time.Location
	cap        int
	undoTTL    time.Duration
	flushDelay time.Duration
	newID      func() string

	tasks  map[string]Task
	ledger *undo.Ledger

	dirty      bool
	flushTimer *time.Timer
	persistErr error

	// beforeRollover is called for each task about to be swept; tests use
	// it to fail a batch midway.
	beforeRollover func(Task) error
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		backend:    opts.Backend,
		clock:      opts.Clock,
		loc:        opts.Location,
		cap:        opts.Cap,
		undoTTL:    opts.UndoTTL,
		flushDelay: opts.FlushDelay,
		newID:      opts.NewID,
		tasks:      map[string]Task{},
	}
	if s.backend == nil {
		s.backend = storage.NewMemory()
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.cap <= 0 {
		s.cap = DefaultCap
	}
	if s.undoTTL <= 0 {
		s.undoTTL = undo.DefaultTTL
	}
	if s.flushDelay < 0 {
		s.flushDelay = DefaultFlushDelay
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.ledger = undo.NewLedger(s.clock, s.undoTTL)
	return s
}

func (s *Scheduler) Cap() int { return s.cap }

func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) Clock() clock.Clock { return s.clock }

// Today is the day key of the scheduler's current local day.
func (s *Scheduler) Today() clock.DayKey {
	return clock.Today(s.clock, s.loc)
}

// Load hydrates the collection from storage. On a storage error the
// scheduler keeps working with an empty collection and the error is also
// kept for PersistErr.
func (s *Scheduler) Load() error {
	stored, err := storage.ReadWithBackup[map[string]Task](s.backend, TasksKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.persistErr = err
		log.Error().Err(err).Str("key", TasksKey).Msg("task collection unreadable, starting empty")
		return fmt.Errorf("schedule.Load: %w", err)
	}

	s.tasks = map[string]Task{}
	if stored == nil {
		return nil
	}
	migrated := 0
	for id, t := range *stored {
		if migrate(id, &t) {
			migrated++
		}
		s.tasks[t.ID] = t
	}
	if migrated > 0 {
		s.dirty = true
		log.Info().Int("migrated", migrated).Msg("upgraded stored tasks")
	}
	log.Debug().Int("tasks", len(s.tasks)).Msg("tasks loaded")
	return nil
}

// Flush writes the collection now. It doubles as the retry action after a
// failed write. A failure never rolls back in-memory state.
func (s *Scheduler) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	snapshot := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	err := storage.AtomicJSONWrite(s.backend, TasksKey, snapshot)

	s.mu.Lock()
	s.persistErr = err
	if err != nil {
		s.dirty = true
	}
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("key", TasksKey).Msg("flush failed")
		return fmt.Errorf("schedule.Flush: %w", err)
	}
	return nil
}

// PersistErr is the last load or flush failure, cleared by a successful
// flush.
func (s *Scheduler) PersistErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErr
}

// Close writes any pending changes.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	pending := s.dirty
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()
	if !pending {
		return nil
	}
	return s.Flush()
}

func (s *Scheduler) scheduleFlush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	if s.flushDelay > 0 {
		if s.flushTimer == nil {
			s.flushTimer = time.AfterFunc(s.flushDelay, func() { _ = s.Flush() })
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	_ = s.Flush()
}

func (s *Scheduler) snapshotLocked() map[string]Task {
	out := make(map[string]Task, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t.clone()
	}
	return out
}

// Snapshot returns a deep copy of the whole collection, deleted tasks
// included.
func (s *Scheduler) Snapshot() map[string]Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) ledgerTx() *Tx {
	return &Tx{s: s, rec: s.ledger}
}

// mutate runs fn as one ledger step and persists afterwards.
func (s *Scheduler) mutate(fn func(tx *Tx) error) error {
	s.mu.Lock()
	err := fn(s.ledgerTx())
	s.mu.Unlock()
	s.scheduleFlush()
	return err
}

func (s *Scheduler) Add(text string, date *clock.DayKey, flags Flags) (Task, error) {
	var out Task
	err := s.mutate(func(tx *Tx) error {
		var err error
		out, err = tx.Add(text, date, flags)
		return err
	})
	return out, err
}

func (s *Scheduler) Complete(id string) error {
	return s.mutate(func(tx *Tx) error { return tx.Complete(id) })
}

func (s *Scheduler) Uncomplete(id string) error {
	return s.mutate(func(tx *Tx) error { return tx.Uncomplete(id) })
}

func (s *Scheduler) SetDate(id string, date *clock.DayKey) error {
	return s.mutate(func(tx *Tx) error { return tx.SetDate(id, date) })
}

func (s *Scheduler) ClearDate(id string) error {
	return s.SetDate(id, nil)
}

func (s *Scheduler) SetText(id, text string) error {
	return s.mutate(func(tx *Tx) error { return tx.SetText(id, text) })
}

func (s *Scheduler) SetFlags(id string, flags Flags) error {
	return s.mutate(func(tx *Tx) error { return tx.SetFlags(id, flags) })
}

func (s *Scheduler) SoftDelete(id string) error {
	return s.mutate(func(tx *Tx) error { return tx.SoftDelete(id) })
}

func (s *Scheduler) Restore(id string) error {
	return s.mutate(func(tx *Tx) error { return tx.Restore(id) })
}

// Purge removes a task from the collection for good.
func (s *Scheduler) Purge(id string) error {
	return s.mutate(func(tx *Tx) error { return tx.Purge(id) })
}

func (s *Scheduler) RolloverMove(day clock.DayKey) (RolloverResult, error) {
	var out RolloverResult
	err := s.mutate(func(tx *Tx) error {
		var err error
		out, err = tx.RolloverMove(day)
		return err
	})
	return out, err
}

// Batch runs fn as a single undo step. If fn returns an error every change
// it made is reverted before the error is returned.
func (s *Scheduler) Batch(label string, fn func(tx *Tx) error) error {
	return s.mutate(func(tx *Tx) error { return tx.do(label, fn) })
}

// Undo reverts the most recent operation and returns its label.
func (s *Scheduler) Undo() (string, error) {
	return s.applyLedger(s.ledger.Undo)
}

func (s *Scheduler) Redo() (string, error) {
	return s.applyLedger(s.ledger.Redo)
}

func (s *Scheduler) applyLedger(fn func() (string, error)) (string, error) {
	s.mu.Lock()
	label, err := fn()
	s.mu.Unlock()
	if err != nil {
		if !errors.Is(err, undo.ErrEmpty) {
			log.Debug().Err(err).Msg("undo unavailable")
		}
		return "", err
	}
	s.scheduleFlush()
	return label, nil
}

func (s *Scheduler) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.CanUndo()
}

func (s *Scheduler) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.CanRedo()
}

func (s *Scheduler) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerTx().Get(id)
}

func (s *Scheduler) ListByDay(day clock.DayKey) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerTx().ListByDay(day)
}

func (s *Scheduler) ListBacklog() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerTx().ListBacklog()
}

func (s *Scheduler) ListBetween(r clock.Range) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerTx().ListBetween(r)
}

func (s *Scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerTx().List()
}

func (s *Scheduler) ActiveCount(day clock.DayKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(day, StateActive)
}

// Matrix groups active tasks by Eisenhower quadrant.
func (s *Scheduler) Matrix() map[Quadrant][]Task {
	out := map[Quadrant][]Task{}
	for _, t := range s.List() {
		if t.State != StateActive {
			continue
		}
		q := QuadrantOf(t.Flags)
		out[q] = append(out[q], t)
	}
	return out
}
