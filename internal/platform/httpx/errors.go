package httpx

import (
	"errors"
	"net/http"

	"github.com/tradebooks/tradebooks/internal/numbering"
	"github.com/tradebooks/tradebooks/internal/shared"
)

// ProblemError lets a domain error control its own problem response:
// status, title, and authoritative extra values (e.g. the current
// balance_due) so a client can self-correct without another round trip.
type ProblemError interface {
	error
	ProblemStatus() int
	ProblemTitle() string
	ProblemExtra() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var problem ProblemError
	if errors.As(err, &problem) {
		ProblemWith(w, problem.ProblemStatus(), problem.ProblemTitle(), problem.Error(), problem.ProblemExtra())
		return
	}

	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrExpired):
		Problem(w, http.StatusConflict, "Expired", err.Error())
	case errors.Is(err, shared.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, numbering.ErrAllocationFailed):
		// No partial state was committed; the whole request is safe to
		// retry.
		Problem(w, http.StatusServiceUnavailable, "Allocation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
