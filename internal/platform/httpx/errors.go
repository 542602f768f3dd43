package httpx

import (
	"errors"
	"net/http"

	"github.com/kanbu-pm/kanbu/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Forbidden
// errors keep their detail text: callers rely on the denied-versus-not-granted
// wording.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidInput):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
