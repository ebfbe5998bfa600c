// Package undo keeps a single pending undo and a single pending redo.
//
// It is not a history stack: recording a new entry replaces the pending
// undo and discards any pending redo. Entries expire after their TTL.
// Ordinary unavailability is reported through ErrEmpty, ErrExpired and
// ErrAlreadyApplied; a panic inside a step is left to propagate.
package undo

import (
	"errors"
	"time"

	"daycap/internal/clock"
)

const DefaultTTL = 15 * time.Second

var (
	ErrEmpty          = errors.New("undo: nothing to apply")
	ErrExpired        = errors.New("undo: entry expired")
	ErrAlreadyApplied = errors.New("undo: entry already applied")
)

// Step performs a mutation and returns the step that reverses it, or nil
// when the mutation cannot be reversed.
type Step func() Step

// Entry describes one undoable action. Redo is optional: without it the
// step returned by Undo is used to redo.
type Entry struct {
	Label string
	TTL   time.Duration
	Undo  Step
	Redo  Step
}

// Recorder accepts undo entries. The Ledger commits them; the buffer handed
// to a Compound body collects them.
type Recorder interface {
	Record(Entry)
}

// pair is a step plus its explicit counterpart, if the caller gave one.
type pair struct {
	apply   Step
	inverse Step
}

// advance applies p and returns the pair that reverses it.
func (p pair) advance() pair {
	ret := p.apply()
	if p.inverse != nil {
		return pair{apply: p.inverse, inverse: p.apply}
	}
	return pair{apply: ret}
}

type slot struct {
	label      string
	ttl        time.Duration
	step       pair
	recordedAt time.Time
	applied    bool
}

// Ledger is not safe for concurrent use; the owner serializes calls.
type Ledger struct {
	clock      clock.Clock
	defaultTTL time.Duration
	undo       *slot
	redo       *slot
}

func NewLedger(c clock.Clock, defaultTTL time.Duration) *Ledger {
	if c == nil {
		c = clock.Real{}
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Ledger{clock: c, defaultTTL: defaultTTL}
}

// Record replaces the pending undo and clears the pending redo. Entries
// without an Undo step are ignored.
func (l *Ledger) Record(e Entry) {
	if e.Undo == nil {
		return
	}
	ttl := e.TTL
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	l.undo = &slot{
		label:      e.Label,
		ttl:        ttl,
		step:       pair{apply: e.Undo, inverse: e.Redo},
		recordedAt: l.clock.Now(),
	}
	l.redo = nil
}

// Undo applies the pending undo and primes the redo slot. It returns the
// entry label.
func (l *Ledger) Undo() (string, error) {
	next, label, err := l.take(&l.undo)
	if err != nil {
		return "", err
	}
	l.redo = next
	return label, nil
}

// Redo applies the pending redo and primes the undo slot again.
func (l *Ledger) Redo() (string, error) {
	next, label, err := l.take(&l.redo)
	if err != nil {
		return "", err
	}
	l.undo = next
	return label, nil
}

func (l *Ledger) take(ref **slot) (*slot, string, error) {
	s := *ref
	if s == nil {
		return nil, "", ErrEmpty
	}
	if s.applied {
		return nil, "", ErrAlreadyApplied
	}
	now := l.clock.Now()
	if now.Sub(s.recordedAt) > s.ttl {
		*ref = nil
		return nil, "", ErrExpired
	}

	back := s.step.advance()
	s.applied = true
	if back.apply == nil {
		return nil, s.label, nil
	}
	return &slot{label: s.label, ttl: s.ttl, step: back, recordedAt: now}, s.label, nil
}

func (l *Ledger) CanUndo() bool { return l.available(l.undo) }

func (l *Ledger) CanRedo() bool { return l.available(l.redo) }

func (l *Ledger) available(s *slot) bool {
	return s != nil && !s.applied && l.clock.Now().Sub(s.recordedAt) <= s.ttl
}
