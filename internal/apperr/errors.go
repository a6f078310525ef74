// Package apperr holds the error taxonomy shared by every action.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("you do not have permission to perform this action")
	ErrInvalidInput    = errors.New("invalid input")
	ErrPrecondition    = errors.New("precondition failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrNoActiveOrg     = errors.New("select an active organization")
	ErrUnavailable     = errors.New("service unavailable")
)

const genericMessage = "the operation could not be completed, try again later"

// Status maps an error to the HTTP status returned at the action boundary.
// Not-found is reported as forbidden so tenants cannot be enumerated.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNoActiveOrg):
		return http.StatusPreconditionRequired
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the text shown to the caller. Known classes keep their detail;
// anything else collapses to a generic message.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrNoActiveOrg), errors.Is(err, ErrUnavailable):
		return rootMessage(err)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrPrecondition), errors.Is(err, ErrConflict):
		return err.Error()
	default:
		return genericMessage
	}
}

// Outcome is a short metrics label for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return "forbidden"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNoActiveOrg):
		return "no_org"
	default:
		return "error"
	}
}

// Internal reports whether err is outside the known taxonomy and should be
// logged with full detail.
func Internal(err error) bool {
	return err != nil && Outcome(err) == "error"
}

func rootMessage(err error) string {
	for _, known := range []error{ErrUnauthenticated, ErrNoActiveOrg, ErrUnavailable} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return strings.TrimSpace(err.Error())
}
