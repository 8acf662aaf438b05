// Package ids mints identifiers for sessions, breaks and status updates.
// Every id ends in a UUIDv7, so ids of the same kind sort by creation time.
package ids

import (
	"time"

	"github.com/google/uuid"
)

const (
	breakPrefix  = "brk_"
	updatePrefix = "upd_"
)

// SessionID returns <userID>_<YYYY-MM-DD>_<uuidv7> for a session created at the given instant.
func SessionID(userID string, at time.Time) string {
	return userID + "_" + at.Format(time.DateOnly) + "_" + newV7()
}

func BreakID() string { return breakPrefix + newV7() }

func UpdateID() string { return updatePrefix + newV7() }

func newV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}
