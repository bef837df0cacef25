package savecode

import "errors"

// Sentinel errors returned by the lifecycle manager and its adapters.
var (
	ErrNotFound             = errors.New("save request not found")
	ErrInvalidOriginURL     = errors.New("invalid origin url")
	ErrVisitTypeNotSavable  = errors.New("visit type not savable")
	ErrForbiddenOrigin      = errors.New("origin is not allowed to be saved")
	ErrInvalidTransition    = errors.New("invalid save request transition")
	ErrStaleRequest         = errors.New("save request changed concurrently")
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
)
