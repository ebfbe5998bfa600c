package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// BackupSuffix names the sibling key holding the previous good value.
const BackupSuffix = ".bak"

// ErrCorrupt is wrapped by read errors when neither a key nor its backup
// holds parseable JSON.
var ErrCorrupt = errors.New("storage: value and backup are unreadable")

type Kind int

const (
	KindRead Kind = iota
	KindParse
	KindSerialize
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindParse:
		return "parse"
	case KindSerialize:
		return "serialize"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Error is the infrastructure failure raised by the JSON helpers. Callers
// match it with errors.As and surface it as a persistence problem; it is
// never an operation result.
type Error struct {
	Op   string
	Key  string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage.%s %s: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReadWithBackup decodes the JSON stored at key. A missing key yields
// (nil, nil). When the primary value does not parse, the backup written by
// AtomicJSONWrite is tried before giving up.
func ReadWithBackup[T any](b Backend, key string) (*T, error) {
	raw, ok, err := b.Get(key)
	if err != nil {
		return nil, &Error{Op: "ReadWithBackup", Key: key, Kind: KindRead, Err: err}
	}
	if !ok {
		return nil, nil
	}

	var v T
	parseErr := json.Unmarshal(raw, &v)
	if parseErr == nil {
		return &v, nil
	}
	log.Warn().Err(parseErr).Str("key", key).Msg("primary value unreadable, trying backup")

	bak, ok, err := b.Get(key + BackupSuffix)
	if err != nil {
		return nil, &Error{Op: "ReadWithBackup", Key: key + BackupSuffix, Kind: KindRead, Err: err}
	}
	if ok {
		var bv T
		if err := json.Unmarshal(bak, &bv); err == nil {
			return &bv, nil
		}
	}
	return nil, &Error{Op: "ReadWithBackup", Key: key, Kind: KindParse, Err: fmt.Errorf("%w: %v", ErrCorrupt, parseErr)}
}

// AtomicJSONWrite copies the current value of key to its backup and then
// stores v. A current value that is not valid JSON is not copied, so a good
// backup is never replaced by a corrupt one.
func AtomicJSONWrite(b Backend, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &Error{Op: "AtomicJSONWrite", Key: key, Kind: KindSerialize, Err: err}
	}

	cur, ok, err := b.Get(key)
	if err != nil {
		return &Error{Op: "AtomicJSONWrite", Key: key, Kind: KindRead, Err: err}
	}
	if ok && json.Valid(cur) {
		if err := b.Put(key+BackupSuffix, cur); err != nil {
			return &Error{Op: "AtomicJSONWrite", Key: key + BackupSuffix, Kind: KindWrite, Err: err}
		}
	}
	if err := b.Put(key, data); err != nil {
		return &Error{Op: "AtomicJSONWrite", Key: key, Kind: KindWrite, Err: err}
	}
	return nil
}
