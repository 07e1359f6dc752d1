// Package apperr holds the failure kinds the checkout pipeline reports to its
// callers. Remote failures are converted into these at the service boundary.
package apperr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an error for presentation
type Kind string

const (
	KindValidation     Kind = "validation"
	KindStateConflict  Kind = "state_conflict"
	KindInProgress     Kind = "in_progress"
	KindNotFound       Kind = "not_found"
	KindTransient      Kind = "transient"
	KindPartialFailure Kind = "partial_failure"
	KindInternal       Kind = "internal"
)

// ErrInProgress is returned when the same action is already running for a proposal.
var ErrInProgress = errors.New("action already in progress for this proposal")

// ErrNotFound is returned for unknown proposals or sessions.
var ErrNotFound = errors.New("not found")

// ErrSessionProcessing rejects edits and cancellation once payment has started.
var ErrSessionProcessing = errors.New("checkout is processing and cannot be changed")

// ErrSessionClosed rejects any use of a checkout session after it closed.
var ErrSessionClosed = errors.New("checkout session is closed")

// ErrSessionFunded rejects replacing a checkout whose escrow is funded but
// whose contract is still missing.
var ErrSessionFunded = errors.New("open checkout already funded escrow; finish or cancel it first")

// ValidationError carries field-scoped messages collected before any remote call.
type ValidationError struct {
	Fields map[string]string
}

// Add records a message for field. The first message per field wins.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StateConflictError rejects an action against a proposal outside its guard state.
type StateConflictError struct {
	ProposalID int64
	Action     string
	Status     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s proposal %d in status %s", e.Action, e.ProposalID, e.Status)
}

// ServiceError is a transient failure of a remote collaborator. The caller may retry.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Cause lets errors.Cause walk through the wrapper.
func (e *ServiceError) Cause() error { return e.Err }

// PartialFailureError means escrow was funded but no contract exists.
// It needs an operator; IdempotencyKey identifies the ledger entry.
type PartialFailureError struct {
	ProposalID     int64
	JobID          int64
	IdempotencyKey string
	Err            error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("escrow funded for job %d but contract creation failed for proposal %d (key %s): %v",
		e.JobID, e.ProposalID, e.IdempotencyKey, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

func (e *PartialFailureError) Cause() error { return e.Err }

// KindOf classifies err. Unrecognised errors are internal.
func KindOf(err error) Kind {
	var (
		validation *ValidationError
		conflict   *StateConflictError
		partial    *PartialFailureError
		service    *ServiceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &conflict):
		return KindStateConflict
	case errors.Is(err, ErrInProgress), errors.Is(err, ErrSessionProcessing), errors.Is(err, ErrSessionFunded):
		return KindInProgress
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionClosed):
		return KindNotFound
	case errors.As(err, &partial):
		return KindPartialFailure
	case errors.As(err, &service):
		return KindTransient
	default:
		return KindInternal
	}
}
