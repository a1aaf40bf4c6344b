package services

import "errors"

// Verification failures that callers can correct. Mismatch and
// not-found/expired deliberately share one outward message so the API
// never reveals which of the two occurred.
var (
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrInvalidCode       = errors.New("verification code must be 6 digits")
	ErrMissingIdentity   = errors.New("caller identity required")
	ErrCodeMismatch      = errors.New("incorrect or expired code")
	ErrNotFoundOrExpired = errors.New("incorrect or expired code")
)
