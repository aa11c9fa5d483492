// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var qerr *workflow.QuantityError
	switch {
	case errors.As(err, &qerr):
		JSON(w, http.StatusBadRequest, ProblemDetail{
			Type:        "quantity-exceeds-outstanding",
			Title:       "Quantity Exceeds Outstanding",
			Status:      http.StatusBadRequest,
			Detail:      err.Error(),
			LineID:      qerr.LineID,
			Outstanding: qerr.Outstanding.String(),
		})
	case errors.Is(err, workflow.ErrIllegalTransition):
		typed(w, http.StatusBadRequest, "illegal-transition", "Illegal Transition", err)
	case errors.Is(err, workflow.ErrMissingNotes):
		typed(w, http.StatusBadRequest, "missing-notes", "Notes Required", err)
	case errors.Is(err, workflow.ErrInvalidSource):
		typed(w, http.StatusBadRequest, "invalid-source", "Invalid Source Line", err)
	case errors.Is(err, workflow.ErrInvalidQuantity), errors.Is(err, workflow.ErrUnknownDocType):
		typed(w, http.StatusBadRequest, "validation", "Validation Failed", err)
	case errors.Is(err, workflow.ErrForbidden):
		typed(w, http.StatusForbidden, "forbidden", "Forbidden", err)
	case errors.Is(err, workflow.ErrDocumentNotFound), errors.Is(err, workflow.ErrLineNotFound):
		typed(w, http.StatusNotFound, "not-found", "Not Found", err)
	case errors.Is(err, workflow.ErrConcurrentModification):
		typed(w, http.StatusConflict, "concurrent-modification", "Concurrent Modification", err)
	case errors.Is(err, shared.ErrIdempotencyConflict):
		typed(w, http.StatusConflict, "duplicate-request", "Duplicate Request", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		// Invariant violations land here too; details stay in the logs.
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func typed(w http.ResponseWriter, status int, kind, title string, err error) {
	JSON(w, status, ProblemDetail{Type: kind, Title: title, Status: status, Detail: err.Error()})
}
