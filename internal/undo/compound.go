package undo

import "time"

type buffer struct {
	entries []pair
}

func (b *buffer) Record(e Entry) {
	if e.Undo == nil {
		return
	}
	b.entries = append(b.entries, pair{apply: e.Undo, inverse: e.Redo})
}

// revert undoes everything buffered so far, newest first.
func (b *buffer) revert() {
	for i := len(b.entries) - 1; i >= 0; i-- {
		b.entries[i].apply()
	}
	b.entries = nil
}

// Compound runs fn with a buffering recorder and commits everything fn
// records as a single entry on rec. Undoing that entry reverses the
// buffered steps newest first; redoing it replays them oldest first.
//
// If fn fails, the buffered steps are reverted before the error is
// returned and nothing is recorded. Compounds nest: an inner Compound
// given the outer buffer commits into it.
func Compound(rec Recorder, label string, ttl time.Duration, fn func(Recorder) error) error {
	buf := &buffer{}
	if err := fn(buf); err != nil {
		buf.revert()
		return err
	}
	if len(buf.entries) == 0 {
		return nil
	}
	rec.Record(Entry{Label: label, TTL: ttl, Undo: sequence(buf.entries, true)})
	return nil
}

// sequence applies steps in reverse (backward) or original order and
// returns the step that applies their inverses the other way round.
func sequence(steps []pair, backward bool) Step {
	return func() Step {
		back := make([]pair, len(steps))
		if backward {
			for i := len(steps) - 1; i >= 0; i-- {
				back[i] = steps[i].advance()
			}
		} else {
			for i := range steps {
				back[i] = steps[i].advance()
			}
		}

		kept := back[:0]
		for _, p := range back {
			if p.apply != nil {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			return nil
		}
		return sequence(kept, !backward)
	}
}
