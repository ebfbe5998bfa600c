package schedule

import (
	"time"

	"daycap/internal/clock"
)

type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateDeleted   State = "deleted"
)

// Flags drive the Eisenhower view only; scheduling ignores them.
type Flags struct {
	Urgent    bool `json:"urgent"`
	Important bool `json:"important"`
}

type Task struct {
	ID             string        `json:"id"`
	Text           string        `json:"text"`
	Date           *clock.DayKey `json:"date"`
	State          State         `json:"state"`
	Flags          Flags         `json:"flags"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	ReplacedByID   string        `json:"replacedById,omitempty"`
	RolledFromDate *clock.DayKey `json:"rolledFromDate,omitempty"`
}

// InBacklog reports whether the task has no day.
func (t Task) InBacklog() bool { return t.Date == nil }

func (t Task) OnDay(day clock.DayKey) bool {
	return t.Date != nil && *t.Date == day
}

// Occupies reports whether the task takes one of its day's slots.
func (t Task) Occupies(day clock.DayKey) bool {
	return t.OnDay(day) && t.State != StateDeleted
}

// clone copies the pointer fields so callers cannot reach stored values.
func (t Task) clone() Task {
	t.Date = dayPtr(t.Date)
	t.RolledFromDate = dayPtr(t.RolledFromDate)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	return t
}

func dayPtr(d *clock.DayKey) *clock.DayKey {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// migrate rewrites legacy state names and fills fields older versions did
// not store. It reports whether anything changed.
func migrate(id string, t *Task) bool {
	changed := false
	if t.ID == "" {
		t.ID = id
		changed = true
	}
	switch t.State {
	case "done":
		t.State = StateCompleted
		changed = true
	case "canceled", "cancelled":
		t.State = StateDeleted
		changed = true
	case "":
		t.State = StateActive
		changed = true
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
		changed = true
	}
	if t.State == StateCompleted && t.CompletedAt == nil {
		at := t.UpdatedAt
		t.CompletedAt = &at
		changed = true
	}
	return changed
}

// Quadrant is a cell of the Eisenhower matrix.
type Quadrant int

const (
	DoFirst Quadrant = iota
	Plan
	Delegate
	Drop
)

func (q Quadrant) String() string {
	switch q {
	case DoFirst:
		return "do first"
	case Plan:
		return "plan"
	case Delegate:
		return "delegate"
	default:
		return "drop"
	}
}

func QuadrantOf(f Flags) Quadrant {
	switch {
	case f.Urgent && f.Important:
		return DoFirst
	case f.Important:
		return Plan
	case f.Urgent:
		return Delegate
	default:
		return Drop
	}
}
