package workflow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrIllegalTransition indicates the action is not valid from the current status.
	ErrIllegalTransition = errors.New("workflow: illegal transition")
	// ErrMissingNotes indicates a required justification was not supplied.
	ErrMissingNotes = errors.New("workflow: notes required")
	// ErrForbidden indicates the actor lacks the capability for the action.
	ErrForbidden = errors.New("workflow: forbidden")
	// ErrQuantityExceedsOutstanding indicates a line would oversubscribe its source line.
	ErrQuantityExceedsOutstanding = errors.New("workflow: quantity exceeds outstanding")
	// ErrConcurrentModification indicates a lost race on status or quantity.
	ErrConcurrentModification = errors.New("workflow: concurrent modification")
	// ErrInvariantViolation indicates corrupted data or a programming error.
	ErrInvariantViolation = errors.New("workflow: invariant violation")
	// ErrLineNotFound indicates the referenced line does not exist.
	ErrLineNotFound = errors.New("workflow: line not found")
	// ErrDocumentNotFound indicates the referenced document does not exist.
	ErrDocumentNotFound = errors.New("workflow: document not found")
	// ErrUnknownDocType indicates a document type outside the registry.
	ErrUnknownDocType = errors.New("workflow: unknown document type")
	// ErrInvalidQuantity indicates a negative or otherwise unusable quantity.
	ErrInvalidQuantity = errors.New("workflow: invalid quantity")
	// ErrInvalidSource indicates a line references a source line its
	// document type may not consume from.
	ErrInvalidSource = errors.New("workflow: invalid source line")
)

// QuantityError reports the outstanding figure a proposed line was checked against.
type QuantityError struct {
	LineID      int64
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("workflow: quantity %s exceeds outstanding %s for line %d",
		e.Requested.String(), e.Outstanding.String(), e.LineID)
}

// Unwrap lets errors.Is match ErrQuantityExceedsOutstanding.
func (e *QuantityError) Unwrap() error {
	return ErrQuantityExceedsOutstanding
}

// IsValidation reports whether err is a caller-correctable validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrMissingNotes) ||
		errors.Is(err, ErrQuantityExceedsOutstanding) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidSource)
}
