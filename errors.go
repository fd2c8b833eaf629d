package codm

import (
	"fmt"

	"github.com/pkg/errors"
)

//==============================================================================

// ErrMissingContinuation is returned when a terminal operation is invoked
// without a completion handler.
var ErrMissingContinuation = errors.New("a completion handler is required")

// ErrMissingIdentityOrFilter is returned when Get is called with neither
// an identity nor an accumulated filter.
var ErrMissingIdentityOrFilter = errors.New("either an id or a filter must be provided to get")

// ErrEmptyUpdate is returned when Update is invoked with an empty
// definition.
var ErrEmptyUpdate = errors.New("update requires a non-empty definition")

// ErrNoConnection is returned when no store is registered for the
// resolved alias.
var ErrNoConnection = errors.New("no connection registered for alias")

//==============================================================================

// ValidationError reports a document that failed its type-level field
// validation. Index carries the position of the failing document for bulk
// operations, and -1 otherwise.
type ValidationError struct {
	Doc    string
	Index  int
	IError error
}

// Message returns the internal message for this error.
func (e ValidationError) Message() string {
	if e.Index >= 0 {
		return fmt.Sprintf("Validation for document %d of type %q failed", e.Index, e.Doc)
	}

	return fmt.Sprintf("Validation for document of type %q failed", e.Doc)
}

// Error returns the error message for this validation error.
func (e ValidationError) Error() string {
	if e.IError != nil {
		return e.Message() + " : " + e.IError.Error()
	}

	return e.Message()
}

//==============================================================================

// PartlyLoadedDocumentError reports an attempt to save a document that was
// materialized under a field projection.
type PartlyLoadedDocumentError struct {
	Doc string
}

// Message returns the internal message for this error.
func (e PartlyLoadedDocumentError) Message() string {
	return fmt.Sprintf("Partly loaded document %q can't be saved. Document should be loaded without Only, Exclude or Fields modifiers", e.Doc)
}

// Error returns the error message for this error.
func (e PartlyLoadedDocumentError) Error() string {
	return e.Message()
}

//==============================================================================

// UniqueKeyViolationError reports a duplicate-key conflict the store met
// while writing a document of the giving type.
type UniqueKeyViolationError struct {
	Doc    string
	IError error
}

// Message returns the internal message for this error.
func (e UniqueKeyViolationError) Message() string {
	return fmt.Sprintf("Duplicate unique key for document type %q", e.Doc)
}

// Error returns the error message for this violation.
func (e UniqueKeyViolationError) Error() string {
	if e.IError != nil {
		return e.Message() + " : " + e.IError.Error()
	}

	return e.Message()
}

//==============================================================================

// InvalidFilterFieldError reports a filter comparison naming an
// undeclared field. Raised during query construction, never after a store
// round trip.
type InvalidFilterFieldError struct {
	Doc    string
	Field  string
	IError error
}

// Message returns the internal message for this error.
func (e InvalidFilterFieldError) Message() string {
	return fmt.Sprintf("Invalid filter field %q: field not found in %q", e.Field, e.Doc)
}

// Error returns the error message for this filter error.
func (e InvalidFilterFieldError) Error() string {
	return e.Message()
}

//==============================================================================

// InvalidSortFieldError reports an order-by specification that does not
// resolve to a sortable declared field.
type InvalidSortFieldError struct {
	Doc    string
	Field  string
	Reason string
}

// Message returns the internal message for this error.
func (e InvalidSortFieldError) Message() string {
	if e.Reason != "" {
		return fmt.Sprintf("Invalid order by field %q in %q: %s", e.Field, e.Doc, e.Reason)
	}

	return fmt.Sprintf("Invalid order by field %q: field not found in %q", e.Field, e.Doc)
}

// Error returns the error message for this sort error.
func (e InvalidSortFieldError) Error() string {
	return e.Message()
}

//==============================================================================
