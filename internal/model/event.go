package model

import "time"

// Event is a scheduled activity owned by exactly one group. The slug is
// unique within the owning group, not globally.
type Event struct {
	ID          int64      `json:"id"`
	GroupID     int64      `json:"group_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Location    string     `json:"location"`
	Slug        string     `json:"slug"`
	CreatorID   int64      `json:"creator_id"`
	Show        bool       `json:"show"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
