package model

import "errors"

// Errors shared by the Session Store and its client. The client maps HTTP
// error codes back onto these so callers can use errors.Is on either side.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrTestNotAvailable = errors.New("test is not available")
	ErrSessionNotActive = errors.New("session is no longer in progress")
	ErrUnauthorized     = errors.New("authentication required")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidAnswer    = errors.New("answer does not match question")
)
