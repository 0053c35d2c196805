package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when an operation references a nonexistent
	// group, event, user, membership, or attendee.
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation is returned when a write would break a
	// uniqueness invariant (duplicate group name, duplicate event name or
	// slug within a group, duplicate membership or attendee pair).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNotAMember is returned when a user attempts to create an event in a
	// group they are not a member of.
	ErrNotAMember = errors.New("not a member of this group")

	// ErrEndsBeforeStarts is returned when an event write carries an end time
	// earlier than its start time.
	ErrEndsBeforeStarts = errors.New("ends before starts")
)

// ValidationError reports an organizer add/remove batch that referenced
// usernames that don't exist or aren't organizers. No partial mutation is
// applied when it is returned.
type ValidationError struct {
	Reason    string
	Usernames []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Usernames, ", "))
}

// wrapConstraint maps sqlite constraint failures onto ErrConstraintViolation
// so callers can match with errors.Is; other errors pass through wrapped.
func wrapConstraint(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%s: %w", op, ErrConstraintViolation)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
