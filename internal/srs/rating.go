package srs

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Rating is the user's assessment of recall quality. Its integer value is
// the wire format: 1=Again, 2=Hard, 3=Good, 4=Easy. The numeric values
// round-trip exactly; anything outside 1..4 is rejected, never clamped.
type Rating int

const (
	Again Rating = iota + 1 // failed to recall
	Hard                    // recalled with significant difficulty
	Good                    // recalled with some effort
	Easy                    // recalled effortlessly
)

var ratingNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// Ratings lists all valid ratings in ascending order.
var Ratings = []Rating{Again, Hard, Good, Easy}

// IsValid reports whether r is within Again..Easy.
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// String returns the rating name, or "Rating(n)" for invalid values.
func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// MarshalJSON serializes the rating as its integer wire value.
func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return []byte(strconv.Itoa(int(r))), nil
}

// UnmarshalJSON parses an integer wire value and validates its range.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRating, data)
	}
	v := Rating(n)
	if !v.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidRating, n)
	}
	*r = v
	return nil
}
