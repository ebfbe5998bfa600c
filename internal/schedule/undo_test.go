package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycap/internal/undo"
)

func TestUndoRedo_Symmetry(t *testing.T) {
	type setup struct {
		f       *fixture
		active  Task
		done    Task
		backlog Task
		evictee Task
	}
	prepare := func(t *testing.T) setup {
		f := newFixture(t)
		d := f.today
		a := f.add(t, "active", day(d))
		c := f.add(t, "done", day(d))
		f.complete(t, c.ID)
		e := f.add(t, "evictee", day(d))
		f.complete(t, e.ID)
		b := f.add(t, "backlog", nil)
		return setup{f: f, active: a, done: c, backlog: b, evictee: e}
	}

	ops := []struct {
		name string
		op   func(s setup) error
	}{
		{"add to backlog", func(s setup) error { _, err := s.f.s.Add("new", nil, Flags{}); return err }},
		{"add with replacement", func(s setup) error { _, err := s.f.s.Add("new", day(s.f.today), Flags{}); return err }},
		{"complete", func(s setup) error { return s.f.s.Complete(s.active.ID) }},
		{"uncomplete", func(s setup) error { return s.f.s.Uncomplete(s.done.ID) }},
		{"schedule backlog into full day", func(s setup) error { return s.f.s.SetDate(s.backlog.ID, day(s.f.today)) }},
		{"clear date", func(s setup) error { return s.f.s.ClearDate(s.active.ID) }},
		{"set text", func(s setup) error { return s.f.s.SetText(s.active.ID, "renamed") }},
		{"set flags", func(s setup) error { return s.f.s.SetFlags(s.active.ID, Flags{Important: true}) }},
		{"soft delete", func(s setup) error { return s.f.s.SoftDelete(s.active.ID) }},
		{"purge", func(s setup) error { return s.f.s.Purge(s.done.ID) }},
		{"rollover", func(s setup) error {
			_, err := s.f.s.RolloverMove(s.f.today)
			return err
		}},
	}

	for _, tt := range ops {
		t.Run(tt.name, func(t *testing.T) {
			s := prepare(t)
			before := s.f.s.Snapshot()

			require.NoError(t, tt.op(s))
			after := s.f.s.Snapshot()
			require.NotEqual(t, before, after)

			_, err := s.f.s.Undo()
			require.NoError(t, err)
			assert.Equal(t, before, s.f.s.Snapshot())

			_, err = s.f.s.Redo()
			require.NoError(t, err)
			assert.Equal(t, after, s.f.s.Snapshot())

			s.f.assertCapInvariant(t)
		})
	}
}

func TestBatch_UndoRevertsAllOps(t *testing.T) {
	f := newFixture(t)
	d := f.today
	existing := f.add(t, "existing", day(d))
	before := f.s.Snapshot()

	err := f.s.Batch("Plan my day", func(tx *Tx) error {
		a, err := tx.Add("one", day(d), Flags{})
		if err != nil {
			return err
		}
		if _, err := tx.Add("two", nil, Flags{}); err != nil {
			return err
		}
		if err := tx.Complete(existing.ID); err != nil {
			return err
		}
		return tx.SetText(a.ID, "one, edited")
	})
	require.NoError(t, err)
	after := f.s.Snapshot()
	require.Len(t, after, 3)

	label, err := f.s.Undo()
	require.NoError(t, err)
	assert.Equal(t, "Plan my day", label)
	assert.Equal(t, before, f.s.Snapshot())

	_, err = f.s.Redo()
	require.NoError(t, err)
	assert.Equal(t, after, f.s.Snapshot())
}

func TestBatch_FailureRevertsEverything(t *testing.T) {
	f := newFixture(t)
	d := f.today
	f.add(t, "A1", day(d))
	before := f.s.Snapshot()

	err := f.s.Batch("too much", func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.Add("more", day(d), Flags{}); err != nil {
				return err
			}
		}
		return nil
	})

	assert.ErrorIs(t, err, ErrCap)
	assert.Equal(t, before, f.s.Snapshot())
	f.assertCapInvariant(t)
}

func TestBatch_ReadsSeeOwnWrites(t *testing.T) {
	f := newFixture(t)
	err := f.s.Batch("check", func(tx *Tx) error {
		a, err := tx.Add("x", day(f.today), Flags{})
		if err != nil {
			return err
		}
		if got, ok := tx.Get(a.ID); !ok || got.Text != "x" {
			return errors.New("missing own write")
		}
		if n := len(tx.ListByDay(f.today)); n != 1 {
			return errors.New("listing out of date")
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestUndo_EmptyAndAlreadyApplied(t *testing.T) {
	f := newFixture(t)

	_, err := f.s.Undo()
	assert.ErrorIs(t, err, undo.ErrEmpty)

	f.add(t, "A", nil)
	_, err = f.s.Undo()
	require.NoError(t, err)
	_, err = f.s.Undo()
	assert.ErrorIs(t, err, undo.ErrAlreadyApplied)
}

func TestUndo_NewOperationClearsRedo(t *testing.T) {
	f := newFixture(t)
	f.add(t, "A", nil)
	_, err := f.s.Undo()
	require.NoError(t, err)
	assert.True(t, f.s.CanRedo())

	f.add(t, "B", nil)

	assert.False(t, f.s.CanRedo())
	_, err = f.s.Redo()
	assert.ErrorIs(t, err, undo.ErrEmpty)
}

func TestUndo_CustomTTL(t *testing.T) {
	backendFixture := newFixture(t)
	s := New(Options{Backend: backendFixture.backend, Clock: backendFixture.clock, Location: time.UTC, UndoTTL: time.Second})
	require.NoError(t, s.Load())
	_, err := s.Add("A", nil, Flags{})
	require.NoError(t, err)

	backendFixture.clock.Advance(2 * time.Second)

	_, err = s.Undo()
	assert.ErrorIs(t, err, undo.ErrExpired)
}
