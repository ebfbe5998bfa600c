package undo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycap/internal/clock"
)

// setter returns a step that sets *v to to and whose inverse sets it back
// to from.
func setter(v *[]string, to []string) Step {
	return func() Step {
		from := append([]string(nil), *v...)
		*v = append([]string(nil), to...)
		return setter(v, from)
	}
}

func push(v *[]string, s string) Entry {
	before := append([]string(nil), *v...)
	*v = append(*v, s)
	return Entry{Label: "push " + s, Undo: setter(v, before)}
}

func newTestLedger() (*Ledger, *clock.Fake) {
	c := clock.NewFake(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC))
	return NewLedger(c, 0), c
}

func TestLedger_Empty(t *testing.T) {
	l, _ := newTestLedger()

	_, err := l.Undo()
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = l.Redo()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.False(t, l.CanUndo())
}

func TestLedger_UndoRedoSymmetry(t *testing.T) {
	l, _ := newTestLedger()
	var v []string

	l.Record(push(&v, "a"))
	require.Equal(t, []string{"a"}, v)
	assert.True(t, l.CanUndo())

	label, err := l.Undo()
	require.NoError(t, err)
	assert.Equal(t, "push a", label)
	assert.Empty(t, v)
	assert.True(t, l.CanRedo())

	_, err = l.Redo()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, v)

	_, err = l.Undo()
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestLedger_DoubleUndoIsAlreadyApplied(t *testing.T) {
	l, _ := newTestLedger()
	var v []string
	l.Record(push(&v, "a"))

	_, err := l.Undo()
	require.NoError(t, err)
	_, err = l.Undo()
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	_, err = l.Redo()
	require.NoError(t, err)
	_, err = l.Redo()
	assert.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestLedger_RecordClearsRedo(t *testing.T) {
	l, _ := newTestLedger()
	var v []string
	l.Record(push(&v, "a"))
	_, err := l.Undo()
	require.NoError(t, err)

	l.Record(push(&v, "b"))

	_, err = l.Redo()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, []string{"b"}, v)
}

func TestLedger_SingleSlot(t *testing.T) {
	l, _ := newTestLedger()
	var v []string
	l.Record(push(&v, "a"))
	l.Record(push(&v, "b"))

	_, err := l.Undo()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, v, "only the latest action is undoable")

	_, err = l.Undo()
	assert.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestLedger_Expired(t *testing.T) {
	l, c := newTestLedger()
	var v []string
	l.Record(push(&v, "a"))

	c.Advance(DefaultTTL + time.Millisecond)
	assert.False(t, l.CanUndo())

	_, err := l.Undo()
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, []string{"a"}, v)

	_, err = l.Undo()
	assert.ErrorIs(t, err, ErrEmpty, "expired slot is cleared")
}

func TestLedger_TTLBoundaryIsInclusive(t *testing.T) {
	l, c := newTestLedger()
	var v []string
	e := push(&v, "a")
	e.TTL = time.Second
	l.Record(e)

	c.Advance(time.Second)
	_, err := l.Undo()
	assert.NoError(t, err)
}

func TestLedger_RedoExpiresFromUndoTime(t *testing.T) {
	l, c := newTestLedger()
	var v []string
	l.Record(push(&v, "a"))

	c.Advance(10 * time.Second)
	_, err := l.Undo()
	require.NoError(t, err)

	c.Advance(10 * time.Second)
	_, err = l.Redo()
	assert.NoError(t, err, "redo slot is stamped when primed")
}

func TestLedger_ExplicitRedo(t *testing.T) {
	l, _ := newTestLedger()
	n := 0
	redos := 0
	l.Record(Entry{
		Label: "inc",
		Undo:  func() Step { n--; return nil },
		Redo:  func() Step { n++; redos++; return nil },
	})
	n = 1

	_, err := l.Undo()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = l.Redo()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = l.Undo()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, redos)
}

func TestLedger_IrreversibleUndoLeavesNoRedo(t *testing.T) {
	l, _ := newTestLedger()
	l.Record(Entry{Label: "once", Undo: func() Step { return nil }})

	_, err := l.Undo()
	require.NoError(t, err)
	_, err = l.Redo()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLedger_IgnoresNilUndo(t *testing.T) {
	l, _ := newTestLedger()
	l.Record(Entry{Label: "nothing"})
	assert.False(t, l.CanUndo())
}

func TestLedger_StepPanicPropagates(t *testing.T) {
	l, _ := newTestLedger()
	l.Record(Entry{Label: "bad", Undo: func() Step { panic("broken inverse") }})

	assert.Panics(t, func() { _, _ = l.Undo() })
}

func TestCompound_UndoesAllInOneStep(t *testing.T) {
	l, _ := newTestLedger()
	var v []string

	err := Compound(l, "batch", 0, func(rec Recorder) error {
		rec.Record(push(&v, "a"))
		rec.Record(push(&v, "b"))
		rec.Record(push(&v, "c"))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, v)

	label, err := l.Undo()
	require.NoError(t, err)
	assert.Equal(t, "batch", label)
	assert.Empty(t, v)

	_, err = l.Redo()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, v)

	_, err = l.Undo()
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestCompound_ReverseOrder(t *testing.T) {
	l, _ := newTestLedger()
	var order []int

	err := Compound(l, "order", 0, func(rec Recorder) error {
		for i := 1; i <= 3; i++ {
			i := i
			var step Step
			step = func() Step {
				order = append(order, -i)
				return func() Step {
					order = append(order, i)
					return step
				}
			}
			rec.Record(Entry{Undo: step})
		}
		return nil
	})
	require.NoError(t, err)

	_, err = l.Undo()
	require.NoError(t, err)
	_, err = l.Redo()
	require.NoError(t, err)

	assert.Equal(t, []int{-3, -2, -1, 1, 2, 3}, order)
}

func TestCompound_FailureRevertsAndRecordsNothing(t *testing.T) {
	l, _ := newTestLedger()
	var v []string
	l.Record(push(&v, "kept"))
	boom := errors.New("boom")

	err := Compound(l, "batch", 0, func(rec Recorder) error {
		rec.Record(push(&v, "a"))
		rec.Record(push(&v, "b"))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"kept"}, v)
	label, err := l.Undo()
	require.NoError(t, err)
	assert.Equal(t, "push kept", label, "previous entry still pending")
}

func TestCompound_EmptyRecordsNothing(t *testing.T) {
	l, _ := newTestLedger()

	require.NoError(t, Compound(l, "noop", 0, func(Recorder) error { return nil }))

	_, err := l.Undo()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestCompound_Nested(t *testing.T) {
	l, _ := newTestLedger()
	var v []string

	err := Compound(l, "outer", 0, func(rec Recorder) error {
		rec.Record(push(&v, "a"))
		return Compound(rec, "inner", 0, func(inner Recorder) error {
			inner.Record(push(&v, "b"))
			inner.Record(push(&v, "c"))
			return nil
		})
	})
	require.NoError(t, err)

	label, err := l.Undo()
	require.NoError(t, err)
	assert.Equal(t, "outer", label)
	assert.Empty(t, v)
}

func TestCompound_TTL(t *testing.T) {
	l, c := newTestLedger()
	var v []string
	require.NoError(t, Compound(l, "short", time.Second, func(rec Recorder) error {
		rec.Record(push(&v, "a"))
		return nil
	}))

	c.Advance(2 * time.Second)
	_, err := l.Undo()
	assert.ErrorIs(t, err, ErrExpired)
}
