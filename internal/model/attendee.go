package model

import "time"

const (
	RSVPYes   = "yes"
	RSVPNo    = "no"
	RSVPMaybe = "maybe"
)

// ValidRSVPStatus reports whether s is one of the accepted RSVP statuses.
func ValidRSVPStatus(s string) bool {
	return s == RSVPYes || s == RSVPNo || s == RSVPMaybe
}

// Attendee is an RSVP record linking a user to an event. Unique per
// (user, event); any status may transition to any other.
type Attendee struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	EventID    int64     `json:"event_id"`
	RSVPStatus string    `json:"rsvp_status"`
	RSVPedOn   time.Time `json:"rsvped_on"`
}

// EventRSVP pairs an event with the requesting user's RSVP status.
type EventRSVP struct {
	Event      Event  `json:"event"`
	RSVPStatus string `json:"rsvp_status"`
}
