package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/embedding"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrNotFound indicates the requested record does not exist
type ErrNotFound struct {
	What string
}

func (e *ErrNotFound) Error() string {
	return e.What + " not found"
}

// HTTPStatus returns the appropriate HTTP status code for an error.
// Budget halts and a disabled embedding provider are 503: the request is
// fine but paid calls are unavailable.
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		notFound   *ErrNotFound
		budget     *cost.BudgetExceededError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &budget), errors.Is(err, embedding.ErrProviderDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
