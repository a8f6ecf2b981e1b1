/*
errors.go - Centralized error types for the compensation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Per-row and per-physician failures are isolated (the batch continues and
  the failure is reported); only snapshot-level failures abort a run.

ERROR CATEGORIES:
  1. Row errors - MappingError, MalformedRecordError (row excluded, reported)
  2. Parameter errors - NoEffectiveParametersError (physician/period only)
  3. Run errors - invalid period, unreachable parameter store (fatal)

USAGE:
  Callers match with errors.Is / errors.As:

    if errors.Is(err, engine.ErrNoEffectiveParameters) { ... }

    var merr *engine.MappingError
    if errors.As(err, &merr) { ... merr.Alias ... }
*/
package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMappingFailed is returned when a scraped physician identifier cannot
	// be resolved through the identity table.
	ErrMappingFailed = errors.New("physician identity mapping failed")

	// ErrMalformedRecord is returned when a raw row is missing a required
	// field or carries an unparseable value.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrNoEffectiveParameters is returned when no parameter set covers a
	// required date and no fallback is configured.
	ErrNoEffectiveParameters = errors.New("no effective compensation parameters")

	// ErrInvalidPeriod is returned when a period's end is not after its start.
	ErrInvalidPeriod = errors.New("invalid period: end not after start")

	// ErrInvalidParameterRange is returned when a parameter set's effective
	// range is empty or inverted.
	ErrInvalidParameterRange = errors.New("invalid parameter effective range")

	// ErrParametersUnavailable is the run-level fatal condition: the engine
	// has no parameter store to snapshot.
	ErrParametersUnavailable = errors.New("parameter store unavailable")

	// ErrRunNotFound is returned by run stores when no run has the given ID.
	ErrRunNotFound = errors.New("run not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MappingError reports an unresolvable physician identifier.
type MappingError struct {
	Source    Source
	SourceKey string
	Alias     string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot resolve physician %q (%s row %s)", e.Alias, e.Source, e.SourceKey)
}

func (e *MappingError) Unwrap() error { return ErrMappingFailed }

// MalformedRecordError reports a raw row excluded for a bad or missing field.
type MalformedRecordError struct {
	Source    Source
	SourceKey string
	Field     string
	Detail    string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s row %s: %s: %s", e.Source, e.SourceKey, e.Field, e.Detail)
}

func (e *MalformedRecordError) Unwrap() error { return ErrMalformedRecord }

// NoEffectiveParametersError reports a gap in parameter versioning.
type NoEffectiveParametersError struct {
	Category Category
	Date     time.Time
}

func (e *NoEffectiveParametersError) Error() string {
	return fmt.Sprintf("no effective parameters for category %q at %s",
		e.Category, e.Date.Format("2006-01-02"))
}

func (e *NoEffectiveParametersError) Unwrap() error { return ErrNoEffectiveParameters }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRowError reports whether the error is an isolated per-row failure.
func IsRowError(err error) bool {
	return errors.Is(err, ErrMappingFailed) || errors.Is(err, ErrMalformedRecord)
}

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidParameterRange) ||
		IsRowError(err)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrNoEffectiveParameters)
}
