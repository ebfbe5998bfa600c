package storage

// Backend is the string-keyed blob store the planner persists into. Values
// are opaque bytes; the JSON helpers in this package give them meaning.
type Backend interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	// Update runs fn against the current value and stores its result
	// atomically with respect to other Update calls on the same key, in this
	// process and in any other process sharing the store. A nil result
	// deletes the key. If fn fails nothing is written and the error is
	// returned unchanged.
	Update(key string, fn func(cur []byte, ok bool) ([]byte, error)) error
	Close() error
}
