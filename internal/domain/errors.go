package domain

import "errors"

var (
	// ErrRunNotPublished means NOMADS has no file for the requested run and
	// lead hour yet. Expected for a few hours after every cycle.
	ErrRunNotPublished = errors.New("gfs run not published")

	// ErrUpstream wraps transport failures and unexpected NOMADS statuses.
	ErrUpstream = errors.New("gfs upstream unavailable")

	// ErrDecode marks a downloaded file that could not be decoded into the
	// required variables.
	ErrDecode = errors.New("gfs decode failed")

	// ErrInvalidCoordinates rejects latitude/longitude outside the valid range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrCacheInconsistent is returned when a cache entry does not belong to
	// the key it was stored under.
	ErrCacheInconsistent = errors.New("grid cache inconsistency")
)
