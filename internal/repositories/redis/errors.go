package redisrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Error implements repositories.RepositoryError for Redis backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing key.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a lost optimistic write.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	out := &Error{op: op, err: err}
	switch {
	case errors.Is(err, redis.Nil):
		out.notFound = true
	case errors.Is(err, redis.TxFailedErr):
		out.conflict = true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		out.unavailable = true
	default:
		out.unavailable = true
	}
	return out
}
