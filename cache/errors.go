package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryTooBig is returned by the get family when a freshly loaded
	// value is larger than the whole cache budget. The value is not stored.
	ErrEntryTooBig = errors.New("cache: entry is too big")

	// ErrEntryNotFound is returned by At when the key has no resolved entry.
	ErrEntryNotFound = errors.New("cache: entry not found")

	// ErrNoLoader is returned by Get when neither a configured nor a
	// per-call loader is available.
	ErrNoLoader = errors.New("cache: no loader provided")

	// ErrStopped is returned by the get family after Stop.
	ErrStopped = errors.New("cache: stopped")
)

// ConfigError reports an invalid combination of Options knobs.
// It is returned by New and NewReloading, never at runtime.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cache: invalid configuration: %s", e.Reason)
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
