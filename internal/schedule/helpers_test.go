package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"daycap/internal/clock"
	"daycap/internal/storage"
)

var testStart = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	s       *Scheduler
	clock   *clock.Fake
	backend *storage.Memory
	today   clock.DayKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := storage.NewMemory()
	c := clock.NewFake(testStart)
	return newFixtureWith(t, backend, c)
}

func newFixtureWith(t *testing.T, backend *storage.Memory, c *clock.Fake) *fixture {
	t.Helper()
	n := 0
	s := New(Options{
		Backend:  backend,
		Clock:    c,
		Location: time.UTC,
		Cap:      3,
		NewID: func() string {
			n++
			return fmt.Sprintf("t%02d", n)
		},
	})
	require.NoError(t, s.Load())
	return &fixture{s: s, clock: c, backend: backend, today: clock.Key(c.Now())}
}

func day(k clock.DayKey) *clock.DayKey { return &k }

// add creates a task and moves the clock forward a second so creation
// times are distinct.
func (f *fixture) add(t *testing.T, text string, date *clock.DayKey) Task {
	t.Helper()
	task, err := f.s.Add(text, date, Flags{})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return task
}

func (f *fixture) complete(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.s.Complete(id))
	f.clock.Advance(time.Second)
}

// seed stores tasks directly and reloads, for states the operations would
// not produce themselves.
func (f *fixture) seed(t *testing.T, tasks ...Task) {
	t.Helper()
	m := map[string]Task{}
	for _, task := range tasks {
		m[task.ID] = task
	}
	require.NoError(t, storage.AtomicJSONWrite(f.backend, TasksKey, m))
	require.NoError(t, f.s.Load())
}

func stored(t *testing.T, b storage.Backend) string {
	t.Helper()
	raw, _, err := b.Get(TasksKey)
	require.NoError(t, err)
	return string(raw)
}

func (f *fixture) assertCapInvariant(t *testing.T) {
	t.Helper()
	perDay := map[clock.DayKey]int{}
	for _, task := range f.s.Snapshot() {
		if task.Date != nil && task.State == StateActive {
			perDay[*task.Date]++
		}
	}
	for d, n := range perDay {
		require.LessOrEqualf(t, n, f.s.Cap(), "day %s has %d active tasks", d.Format(time.UTC), n)
	}
}
