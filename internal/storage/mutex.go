package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"daycap/internal/clock"
)

var (
	errLockHeld = errors.New("lock held")
	errNotOwner = errors.New("lock not owned")
)

type lockRecord struct {
	Owner string `json:"owner"`
	At    int64  `json:"at"`
}

// Mutex is an advisory lock kept in a shared key. The holder is recorded
// with a timestamp; once TTL has passed the lock is considered abandoned and
// any owner may take it.
type Mutex struct {
	backend Backend
	key     string
	owner   string
	ttl     time.Duration
	clock   clock.Clock
}

func NewMutex(b Backend, key, owner string, ttl time.Duration, c clock.Clock) *Mutex {
	if c == nil {
		c = clock.Real{}
	}
	return &Mutex{backend: b, key: key, owner: owner, ttl: ttl, clock: c}
}

func (m *Mutex) Owner() string { return m.owner }

// TryLock takes the lock without waiting. It reports false when a different
// owner holds an unexpired lock. Locking again as the current owner
// refreshes the timestamp.
func (m *Mutex) TryLock() (bool, error) {
	now := m.clock.Now()
	err := m.backend.Update(m.key, func(cur []byte, ok bool) ([]byte, error) {
		if ok {
			var rec lockRecord
			if err := json.Unmarshal(cur, &rec); err == nil && rec.Owner != m.owner {
				if now.Sub(time.UnixMilli(rec.At)) < m.ttl {
					return nil, errLockHeld
				}
			}
		}
		return json.Marshal(lockRecord{Owner: m.owner, At: now.UnixMilli()})
	})
	if errors.Is(err, errLockHeld) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage.Mutex.TryLock: %w", err)
	}
	return true, nil
}

// Unlock releases the lock if this owner still holds it. A lock that was
// taken over after expiring is left alone.
func (m *Mutex) Unlock() error {
	err := m.backend.Update(m.key, func(cur []byte, ok bool) ([]byte, error) {
		if !ok {
			return nil, errNotOwner
		}
		var rec lockRecord
		if err := json.Unmarshal(cur, &rec); err == nil && rec.Owner != m.owner {
			return nil, errNotOwner
		}
		return nil, nil
	})
	if errors.Is(err, errNotOwner) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage.Mutex.Unlock: %w", err)
	}
	return nil
}
