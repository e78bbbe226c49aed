package domain

import "errors"

var (
	ErrInvalidScope       = errors.New("invalid scope")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidContributor = errors.New("invalid contributor")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidState       = errors.New("invalid work unit state")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrOwnershipMismatch  = errors.New("ownership mismatch")
	ErrInvalidInterval    = errors.New("invalid time interval")
)
