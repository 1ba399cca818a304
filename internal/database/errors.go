package database

import (
	"errors"
	"fmt"
)

// Sentinel errors for the persistence layer. Callers match with errors.Is.
var (
	// ErrPoolExhausted is returned when no pooled connection becomes
	// available within the acquire timeout. Transient; callers decide
	// retry policy.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrStoreUnavailable is returned when the underlying store cannot be
	// reached. Fatal for the current operation; not retried internally.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnknownFramework is returned when a framework reference does not
	// resolve to an ingested framework.
	ErrUnknownFramework = errors.New("unknown framework")

	// ErrUnknownControl is returned when a control reference does not
	// resolve within its declared framework.
	ErrUnknownControl = errors.New("unknown control")

	// ErrInvalidWeight is returned when a control weight is outside the
	// valid range at ingestion time.
	ErrInvalidWeight = errors.New("invalid control weight")

	// ErrInvalidStrength is returned when a mapping strength is outside
	// [0.0, 1.0].
	ErrInvalidStrength = errors.New("invalid mapping strength")

	// ErrDuplicateMapping is returned when the same directed
	// (source, target, type) mapping is inserted twice.
	ErrDuplicateMapping = errors.New("duplicate control mapping")
)

// UnknownControlError wraps ErrUnknownControl with the offending reference.
func UnknownControlError(framework, controlID string) error {
	return fmt.Errorf("%w: %s/%s", ErrUnknownControl, framework, controlID)
}

// UnknownFrameworkError wraps ErrUnknownFramework with the offending reference.
func UnknownFrameworkError(framework string) error {
	return fmt.Errorf("%w: %s", ErrUnknownFramework, framework)
}
