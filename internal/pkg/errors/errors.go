package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfig marks configuration that cannot produce a meaningful run.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUpstreamUnavailable marks failures of the raw-data database. Runs abort on it.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedDate marks survey date text that cannot be parsed.
	ErrMalformedDate = errors.New("malformed date")
)

// MalformedDateError carries the offending field and raw text.
type MalformedDateError struct {
	Field  string
	Text   string
	UserID int64
	Cause  error
}

func (e *MalformedDateError) Error() string {
	if e == nil {
		return ErrMalformedDate.Error()
	}
	msg := fmt.Sprintf("malformed date in %s: %q", e.Field, e.Text)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MalformedDateError) Is(target error) bool {
	return target == ErrMalformedDate
}

func (e *MalformedDateError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// InvalidConfig tags msg with ErrInvalidConfig.
func InvalidConfig(format string, args ...any) error {
	return errors.Join(ErrInvalidConfig, fmt.Errorf(format, args...))
}

// Upstream tags err with ErrUpstreamUnavailable, keeping the cause reachable.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return errors.Join(ErrUpstreamUnavailable, fmt.Errorf("%s: %w", op, err))
}
