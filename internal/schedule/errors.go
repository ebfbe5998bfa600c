package schedule

import (
	"errors"
	"fmt"

	"daycap/internal/clock"
	"daycap/internal/storage"
)

// Operation failures. They are returned, never panicked, and matched with
// errors.Is.
var (
	ErrCap                = errors.New("schedule: day is full")
	ErrNotFound           = errors.New("schedule: task not found")
	ErrCompletedImmutable = errors.New("schedule: completed task text is immutable")
	ErrInvalid            = errors.New("schedule: invalid input")
	ErrRollover           = errors.New("schedule: rollover incomplete")
)

// CapError carries the day and limit behind an ErrCap failure.
type CapError struct {
	Day        clock.DayKey
	Cap        int
	Uncomplete bool
}

func (e *CapError) Error() string {
	return fmt.Sprintf("schedule: day %s is full (cap %d)", e.Day, e.Cap)
}

func (e *CapError) Is(target error) bool { return target == ErrCap }

// UserMessage is the inline text shown for a failed operation.
func UserMessage(err error) string {
	var capErr *CapError
	var storeErr *storage.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &capErr) && capErr.Uncomplete:
		return fmt.Sprintf("Can't uncomplete: that day already has %d active tasks.", capErr.Cap)
	case errors.Is(err, ErrCap):
		return "Day is full. Complete, archive, or delete a task to free a slot."
	case errors.Is(err, ErrCompletedImmutable):
		return "Completed tasks can't be edited."
	case errors.Is(err, ErrNotFound):
		return "Task not found."
	case errors.Is(err, ErrInvalid):
		return "Task text can't be empty."
	case errors.As(err, &storeErr):
		return "Couldn't save to storage. Your changes are kept for this session."
	default:
		return err.Error()
	}
}
