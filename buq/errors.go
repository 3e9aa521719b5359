/*
errors.go - Centralized error types for the quantification core

PURPOSE:

	All error types in one place for consistency and discoverability.
	Every failure path in the core returns one of these; nothing is
	silently swallowed and nothing degrades to best-effort.

ERROR CATEGORIES:
 1. Validation errors  - bad input shape (missing fields, id mismatch)
 2. Not-found errors   - referenced entity absent
 3. Transition errors  - workflow rule violations
 4. Conflict errors    - uniqueness violations, concurrent modification
 5. Reference-data     - external lookup failed (not retried here)

MACHINE-READABLE KEYS:

	Each structured error exposes Key(), a stable identifier suitable for
	localization and client-side matching. Tests assert on keys, never on
	message text.

USAGE:

	if buq.IsConflict(err) { ... }          // category check
	var tErr *buq.InvalidTransitionError
	if errors.As(err, &tErr) { tErr.Key() } // structured access

SEE ALSO:
  - status.go: CheckTransition produces InvalidTransitionError
  - workflow.go: produces the rest
*/
package buq

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is the base of all bad-input errors.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is the base of all uniqueness/concurrency violations.
	ErrConflict = errors.New("conflict")

	// ErrConcurrentModification is returned when the optimistic version
	// check fails on update. Wraps ErrConflict.
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification detected", ErrConflict)

	// ErrReferenceDataUnavailable is returned when an external reference
	// lookup fails. The core performs a single attempt and surfaces this
	// immediately; retrying is the collaborator's business.
	ErrReferenceDataUnavailable = errors.New("reference data unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry stable keys plus context
// =============================================================================

// InvalidTransitionError reports a workflow rule violation. It always
// identifies the current state, the attempted action and the allowed set.
type InvalidTransitionError struct {
	Current Status
	Action  Action
	Allowed []Status
	Key     string
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("%s: cannot %s from %s (allowed: %s)",
		e.Key, e.Action, e.Current, strings.Join(allowed, ", "))
}

// MissingParametersError lists exactly the required fields that were absent.
type MissingParametersError struct {
	Fields []string
}

func (e *MissingParametersError) Error() string {
	return "missingParameters: " + strings.Join(e.Fields, ", ")
}

func (e *MissingParametersError) Unwrap() error { return ErrValidation }

// IDMismatchError reports a payload id that disagrees with the target id.
type IDMismatchError struct {
	PayloadID string
	TargetID  string
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("idMismatch: payload id %s does not match target id %s", e.PayloadID, e.TargetID)
}

func (e *IDMismatchError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the kind and id of a missing entity.
type NotFoundError struct {
	Kind string // "quantification", "facility", "program", "period", "rejection", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%sNotFound: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicatePeriodFacilityError reports a second quantification for the
// same (facility, processing period) pair.
type DuplicatePeriodFacilityError struct {
	FacilityID         string
	ProcessingPeriodID string
}

func (e *DuplicatePeriodFacilityError) Error() string {
	return fmt.Sprintf("quantificationAlreadyExists: facility %s, period %s",
		e.FacilityID, e.ProcessingPeriodID)
}

func (e *DuplicatePeriodFacilityError) Unwrap() error { return ErrConflict }

// DuplicateRejectionError reports a second Rejection for one StatusChange.
type DuplicateRejectionError struct {
	StatusChangeID string
}

func (e *DuplicateRejectionError) Error() string {
	return "duplicateRejection: status change " + e.StatusChangeID
}

func (e *DuplicateRejectionError) Unwrap() error { return ErrConflict }

// DuplicateNameError reports a unique-name violation on a reference entity.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%sNameDuplicated: %s", e.Kind, e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrConflict }

// FacilityProgramMismatchError reports a facility that does not support
// the requested program.
type FacilityProgramMismatchError struct {
	FacilityID string
	ProgramID  string
}

func (e *FacilityProgramMismatchError) Error() string {
	return fmt.Sprintf("facilityDoesNotSupportProgram: facility %s, program %s",
		e.FacilityID, e.ProgramID)
}

func (e *FacilityProgramMismatchError) Unwrap() error { return ErrValidation }

// CurrencyMismatchError reports monetary arithmetic across currencies.
// This is a precondition violation, never a recoverable state.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currencyMismatch: %s vs %s", e.Left, e.Right)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrValidation }

// ReferenceDataError wraps a failed external lookup with the collaborator
// that failed.
type ReferenceDataError struct {
	Lookup string // "facility", "approvedProducts", ...
	Err    error
}

func (e *ReferenceDataError) Error() string {
	return fmt.Sprintf("referenceDataUnavailable: %s: %v", e.Lookup, e.Err)
}

func (e *ReferenceDataError) Unwrap() error { return ErrReferenceDataUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Key returns the stable machine-readable key of err, or "" if err carries
// none. The API layer uses this for the error body; tests match on it.
func Key(err error) string {
	switch e := err.(type) {
	case *InvalidTransitionError:
		return e.Key
	case *MissingParametersError:
		return "missingParameters"
	case *IDMismatchError:
		return "idMismatch"
	case *NotFoundError:
		return e.Kind + "NotFound"
	case *DuplicatePeriodFacilityError:
		return "quantificationAlreadyExists"
	case *DuplicateRejectionError:
		return "duplicateRejection"
	case *DuplicateNameError:
		return e.Kind + "NameDuplicated"
	case *FacilityProgramMismatchError:
		return "facilityDoesNotSupportProgram"
	case *CurrencyMismatchError:
		return "currencyMismatch"
	case *ReferenceDataError:
		return "referenceDataUnavailable"
	}
	if errors.Is(err, ErrConcurrentModification) {
		return "concurrentModification"
	}
	var unwrapped interface{ Unwrap() error }
	if errors.As(err, &unwrapped) {
		return Key(unwrapped.Unwrap())
	}
	return ""
}

// IsNotFound reports whether err indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether err is a uniqueness or concurrency violation.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInvalidTransition reports whether err is a workflow rule violation.
func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}

// IsReferenceDataUnavailable reports whether err came from a failed
// external lookup.
func IsReferenceDataUnavailable(err error) bool {
	return errors.Is(err, ErrReferenceDataUnavailable)
}
