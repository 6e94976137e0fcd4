package domain

import "github.com/cockroachdb/errors"

var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrConflict             = errors.New("conflict")
	ErrGatewayUnavailable   = errors.New("gateway unavailable")
	ErrVerificationFailed   = errors.New("verification failed")
	ErrSerializationFailure = errors.New("serialization failure")
)
