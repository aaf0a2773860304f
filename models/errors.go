package models

import "errors"

// Sentinel errors shared by the store, the live coordinator and the handlers.
// Handlers map them to HTTP status codes with errors.Is.
var (
	ErrUnauthenticated = errors.New("authentication required")       // 401
	ErrForbidden       = errors.New("insufficient permissions")      // 403
	ErrNotFound        = errors.New("not found")                     // 404
	ErrConflict        = errors.New("conflict")                      // 409
	ErrValidation      = errors.New("validation failed")             // 400
	ErrUnavailable     = errors.New("identity provider unavailable") // 502
)
