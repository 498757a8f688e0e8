package errors

import "errors"

// Credential errors.
var (
	ErrInvalidCredential     = errors.New("invalid or rejected credential")
	ErrAuthorizationRejected = errors.New("authorization rejected")
	ErrAuthorizationTimeout  = errors.New("authorization timed out")
)

// Local and transport errors.
var (
	ErrStore   = errors.New("credential store failure")
	ErrNetwork = errors.New("network request failed")
)
