package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"daycap/internal/clock"
	"daycap/internal/undo"
)

// Tx is the operation surface inside a Batch, and the one the Scheduler
// methods delegate to. Its methods assume the scheduler lock is held and
// record their inverses with rec instead of the ledger directly.
type Tx struct {
	s   *Scheduler
	rec undo.Recorder
}

// do runs fn as one compound step labelled label.
func (tx *Tx) do(label string, fn func(sub *Tx) error) error {
	return undo.Compound(tx.rec, label, tx.s.undoTTL, func(rec undo.Recorder) error {
		return fn(&Tx{s: tx.s, rec: rec})
	})
}

// put stores t and records the step that restores the previous value.
func (tx *Tx) put(t Task) {
	prev, existed := tx.s.tasks[t.ID]
	tx.s.tasks[t.ID] = t
	tx.s.dirty = true
	tx.rec.Record(undo.Entry{Undo: tx.s.restore(t.ID, prev, existed)})
}

func (tx *Tx) remove(id string) {
	prev, existed := tx.s.tasks[id]
	if !existed {
		return
	}
	delete(tx.s.tasks, id)
	tx.s.dirty = true
	tx.rec.Record(undo.Entry{Undo: tx.s.restore(id, prev, true)})
}

// restore returns a step putting id back to t (or removing it when present
// is false). Applying it yields the step that puts back what it replaced.
func (s *Scheduler) restore(id string, t Task, present bool) undo.Step {
	return func() undo.Step {
		cur, curPresent := s.tasks[id]
		if present {
			s.tasks[id] = t
		} else {
			delete(s.tasks, id)
		}
		s.dirty = true
		return s.restore(id, cur, curPresent)
	}
}

// lookup finds a task that is not soft-deleted.
func (tx *Tx) lookup(op, id string) (Task, error) {
	t, ok := tx.s.tasks[id]
	if !ok || t.State == StateDeleted {
		return Task{}, fmt.Errorf("schedule.%s %s: %w", op, id, ErrNotFound)
	}
	return t, nil
}

func (s *Scheduler) countLocked(day clock.DayKey, state State) int {
	n := 0
	for _, t := range s.tasks {
		if t.OnDay(day) && t.State == state {
			n++
		}
	}
	return n
}

// completedByAge lists the day's completed tasks, oldest completion first,
// then oldest creation, then id.
func (s *Scheduler) completedByAge(day clock.DayKey) []Task {
	var out []Task
	for _, t := range s.tasks {
		if t.OnDay(day) && t.State == StateCompleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ac, bc := completedAt(a), completedAt(b)
		if !ac.Equal(bc) {
			return ac.Before(bc)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func completedAt(t Task) time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.UpdatedAt
}

// makeRoom frees a slot on day for incoming, evicting the oldest completed
// tasks to the backlog when the day is full. It checks before it mutates,
// so an ErrCap leaves everything untouched.
func (tx *Tx) makeRoom(day clock.DayKey, incoming Task) error {
	s := tx.s
	active := s.countLocked(day, StateActive)
	completed := s.completedByAge(day)
	occupied := active + len(completed)

	if occupied < s.cap {
		return nil
	}
	if incoming.State == StateActive && active >= s.cap {
		return &CapError{Day: day, Cap: s.cap}
	}
	evict := occupied - s.cap + 1
	if evict > len(completed) {
		return &CapError{Day: day, Cap: s.cap}
	}

	now := s.clock.Now()
	for _, victim := range completed[:evict] {
		victim = victim.clone()
		victim.Date = nil
		victim.ReplacedByID = incoming.ID
		victim.UpdatedAt = now
		tx.put(victim)
		log.Info().
			Str("task_id", victim.ID).
			Str("replaced_by", incoming.ID).
			Str("day", day.Format(s.loc)).
			Msg("moved completed task to backlog to free a slot")
	}
	return nil
}

// Add creates a task on date, or in the backlog when date is nil.
func (tx *Tx) Add(text string, date *clock.DayKey, flags Flags) (Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, fmt.Errorf("schedule.Add: empty text: %w", ErrInvalid)
	}
	now := tx.s.clock.Now()
	t := Task{
		ID:        tx.s.newID(),
		Text:      text,
		Date:      dayPtr(date),
		State:     StateActive,
		Flags:     flags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := tx.do("Add task", func(sub *Tx) error {
		if date != nil {
			if err := sub.makeRoom(*date, t); err != nil {
				return err
			}
		}
		sub.put(t)
		return nil
	})
	if err != nil {
		return Task{}, fmt.Errorf("schedule.Add: %w", err)
	}
	log.Debug().Str("task_id", t.ID).Msg("task added")
	return t.clone(), nil
}

func (tx *Tx) Complete(id string) error {
	t, err := tx.lookup("Complete", id)
	if err != nil {
		return err
	}
	if t.State == StateCompleted {
		return nil
	}
	now := tx.s.clock.Now()
	t = t.clone()
	t.State = StateCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	return tx.do("Complete task", func(sub *Tx) error {
		sub.put(t)
		return nil
	})
}

// Uncomplete reactivates a completed task. A dated task needs its day to
// have fewer than Cap active tasks; backlog tasks are exempt.
func (tx *Tx) Uncomplete(id string) error {
	t, err := tx.lookup("Uncomplete", id)
	if err != nil {
		return err
	}
	if t.State != StateCompleted {
		return nil
	}
	if t.Date != nil && tx.s.countLocked(*t.Date, StateActive)+1 > tx.s.cap {
		return fmt.Errorf("schedule.Uncomplete %s: %w", id, &CapError{Day: *t.Date, Cap: tx.s.cap, Uncomplete: true})
	}
	t = t.clone()
	t.State = StateActive
	t.CompletedAt = nil
	t.UpdatedAt = tx.s.clock.Now()
	return tx.do("Reopen task", func(sub *Tx) error {
		sub.put(t)
		return nil
	})
}

// SetDate moves a task to date, or to the backlog when date is nil. Moving
// into a day follows the same cap and replacement rules as Add.
func (tx *Tx) SetDate(id string, date *clock.DayKey) error {
	t, err := tx.lookup("SetDate", id)
	if err != nil {
		return err
	}
	if sameDay(t.Date, date) {
		return nil
	}
	t = t.clone()
	t.Date = dayPtr(date)
	t.UpdatedAt = tx.s.clock.Now()
	label := "Move to backlog"
	if date != nil {
		label = "Schedule task"
		t.ReplacedByID = ""
		t.RolledFromDate = nil
	}
	err = tx.do(label, func(sub *Tx) error {
		if date != nil {
			if err := sub.makeRoom(*date, t); err != nil {
				return err
			}
		}
		sub.put(t)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule.SetDate %s: %w", id, err)
	}
	return nil
}

func (tx *Tx) ClearDate(id string) error {
	return tx.SetDate(id, nil)
}

func (tx *Tx) SetText(id, text string) error {
	t, err := tx.lookup("SetText", id)
	if err != nil {
		return err
	}
	if t.State == StateCompleted {
		return fmt.Errorf("schedule.SetText %s: %w", id, ErrCompletedImmutable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("schedule.SetText %s: empty text: %w", id, ErrInvalid)
	}
	if text == t.Text {
		return nil
	}
	t = t.clone()
	t.Text = text
	t.UpdatedAt = tx.s.clock.Now()
	return tx.do("Edit task", func(sub *Tx) error {
		sub.put(t)
		return nil
	})
}

func (tx *Tx) SetFlags(id string, flags Flags) error {
	t, err := tx.lookup("SetFlags", id)
	if err != nil {
		return err
	}
	if t.Flags == flags {
		return nil
	}
	t = t.clone()
	t.Flags = flags
	t.UpdatedAt = tx.s.clock.Now()
	return tx.do("Change priority", func(sub *Tx) error {
		sub.put(t)
		return nil
	})
}

// SoftDelete hides a task from listings and cap counts but keeps it stored.
func (tx *Tx) SoftDelete(id string) error {
	t, ok := tx.s.tasks[id]
	if !ok {
		return fmt.Errorf("schedule.SoftDelete %s: %w", id, ErrNotFound)
	}
	if t.State == StateDeleted {
		return nil
	}
	t = t.clone()
	t.State = StateDeleted
	t.UpdatedAt = tx.s.clock.Now()
	return tx.do("Delete task", func(sub *Tx) error {
		sub.put(t)
		return nil
	})
}

// Restore brings a soft-deleted task back as active, subject to its day's
// cap.
func (tx *Tx) Restore(id string) error {
	t, ok := tx.s.tasks[id]
	if !ok {
		return fmt.Errorf("schedule.Restore %s: %w", id, ErrNotFound)
	}
	if t.State != StateDeleted {
		return nil
	}
	t = t.clone()
	t.State = StateActive
	t.CompletedAt = nil
	t.UpdatedAt = tx.s.clock.Now()
	err := tx.do("Restore task", func(sub *Tx) error {
		if t.Date != nil {
			if err := sub.makeRoom(*t.Date, t); err != nil {
				return err
			}
		}
		sub.put(t)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule.Restore %s: %w", id, err)
	}
	return nil
}

func (tx *Tx) Purge(id string) error {
	if _, ok := tx.s.tasks[id]; !ok {
		return fmt.Errorf("schedule.Purge %s: %w", id, ErrNotFound)
	}
	return tx.do("Delete task permanently", func(sub *Tx) error {
		sub.remove(id)
		return nil
	})
}

type RolloverResult struct {
	Day      clock.DayKey
	MovedIDs []string
}

// RolloverMove sends every active task on day to the backlog, stamping
// RolledFromDate. Completed tasks stay put. The batch is all or nothing:
// on failure every task already moved is put back.
func (tx *Tx) RolloverMove(day clock.DayKey) (RolloverResult, error) {
	s := tx.s
	var due []Task
	for _, t := range s.tasks {
		if t.OnDay(day) && t.State == StateActive {
			due = append(due, t)
		}
	}
	sortTasks(due)

	res := RolloverResult{Day: day, MovedIDs: []string{}}
	now := s.clock.Now()
	label := "Roll over " + day.Format(s.loc)
	err := tx.do(label, func(sub *Tx) error {
		for _, t := range due {
			if s.beforeRollover != nil {
				if err := s.beforeRollover(t); err != nil {
					return err
				}
			}
			t = t.clone()
			t.Date = nil
			t.RolledFromDate = dayPtr(&day)
			t.UpdatedAt = now
			sub.put(t)
			res.MovedIDs = append(res.MovedIDs, t.ID)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("day", day.Format(s.loc)).Msg("rollover reverted")
		return RolloverResult{Day: day, MovedIDs: []string{}}, fmt.Errorf("schedule.RolloverMove %s: %w: %w", day.Format(s.loc), ErrRollover, err)
	}
	if len(res.MovedIDs) > 0 {
		log.Info().Str("day", day.Format(s.loc)).Int("moved", len(res.MovedIDs)).Msg("rolled over unfinished tasks")
	}
	return res, nil
}

func (tx *Tx) Get(id string) (Task, bool) {
	t, ok := tx.s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// ListByDay returns the day's active and completed tasks.
func (tx *Tx) ListByDay(day clock.DayKey) []Task {
	return tx.filter(func(t Task) bool { return t.Occupies(day) })
}

func (tx *Tx) ListBacklog() []Task {
	return tx.filter(func(t Task) bool { return t.Date == nil && t.State != StateDeleted })
}

// ListBetween returns dated tasks inside r, ordered by day.
func (tx *Tx) ListBetween(r clock.Range) []Task {
	out := tx.filter(func(t Task) bool {
		return t.Date != nil && t.State != StateDeleted && r.Contains(*t.Date)
	})
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Date < *out[j].Date })
	return out
}

func (tx *Tx) List() []Task {
	return tx.filter(func(t Task) bool { return t.State != StateDeleted })
}

func (tx *Tx) filter(keep func(Task) bool) []Task {
	var out []Task
	for _, t := range tx.s.tasks {
		if keep(t) {
			out = append(out, t.clone())
		}
	}
	sortTasks(out)
	return out
}

func sortTasks(ts []Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func sameDay(a, b *clock.DayKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
