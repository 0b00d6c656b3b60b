package apperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Sentinel errors shared across services. Handlers translate them to HTTP
// statuses with StatusCode; everything else is treated as a store failure.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNetworkFailure   = errors.New("store operation failed")
)

func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, ErrPermissionDenied):
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// HTTPError wraps a service error into a fiber error with the mapped status.
func HTTPError(err error) *fiber.Error {
	return fiber.NewError(StatusCode(err), err.Error())
}
