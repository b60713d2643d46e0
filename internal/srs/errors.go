package srs

import "errors"

// Sentinel errors for the srs package. Check with errors.Is.
var (
	ErrInvalidRating = errors.New("srs: invalid rating")
	ErrInvalidState  = errors.New("srs: invalid scheduling state")
	ErrInvalidParams = errors.New("srs: parameters out of bounds")
)
