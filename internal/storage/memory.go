package storage

import "sync"

// Memory is an in-process Backend. FailWrites, when set, is consulted before
// every mutation and lets tests simulate a full or disabled store.
type Memory struct {
	mu         sync.Mutex
	data       map[string][]byte
	FailWrites func(key string) error
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWrite(key); err != nil {
		return err
	}
	m.data[key] = clone(value)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWrite(key); err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Update(key string, fn func(cur []byte, ok bool) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[key]
	next, err := fn(clone(cur), ok)
	if err != nil {
		return err
	}
	if err := m.checkWrite(key); err != nil {
		return err
	}
	if next == nil {
		delete(m.data, key)
		return nil
	}
	m.data[key] = clone(next)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) checkWrite(key string) error {
	if m.FailWrites == nil {
		return nil
	}
	return m.FailWrites(key)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
