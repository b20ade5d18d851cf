package models

import "errors"

// Sentinel errors for lookups. Storage and service layers wrap these so
// callers can branch with errors.Is without knowing the backend.
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrPageNotFound     = errors.New("page not found")
	ErrLinkNotFound     = errors.New("link not found")
	ErrSourceNotFound   = errors.New("source not found")
	ErrChangesNotFound  = errors.New("no change detection for run")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrRunNotActive     = errors.New("run is not active")
)
