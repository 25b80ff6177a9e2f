package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrParse marks a referral package that could not be read at all.
	// Terminal for the source item being ingested.
	ErrParse = errors.New("package parse failure")

	// ErrLookup marks unresolvable reference data (trigger, LGA, assignee).
	// Never fatal; callers degrade to a documented fallback.
	ErrLookup = errors.New("reference data lookup failure")

	// ErrGeometry marks unparseable coordinates or an invalid polygon.
	// Never fatal; callers skip the affected address or location.
	ErrGeometry = errors.New("invalid geometry")

	// ErrGateway marks a remote geocode/notify/index failure. Always
	// best-effort from the caller's perspective.
	ErrGateway = errors.New("remote gateway failure")
)
