package httpapi

import (
	"errors"
	"net/http"

	"github.com/sandboxrun/core/runtime/agent/conductor"
)

// statusFor classifies err per the taxonomy in the error handling design:
// Validation/NotFound surface as 4xx; everything else not explicitly
// recognized is a 500 (StorageError, ActorUnavailable, PolicyError, and
// plain Unknown all share that fate at the HTTP boundary — in-process
// callers distinguish them through the typed errors themselves).
func statusFor(err error) int {
	var notFound *conductor.NotFoundError
	var invalid *conductor.InvalidRequestError
	var dup *conductor.DuplicateTaskError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &dup):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
