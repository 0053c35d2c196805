package model

import "time"

// Group is a community of users around a shared interest. The creator is
// always a member; organizers hold change/delete capability over the group
// and its events.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MembersName string    `json:"members_name"`
	Slug        string    `json:"slug"`
	CreatorID   int64     `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership links a user to a group. Unique per (user, group).
type Membership struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"user_id"`
	GroupID  int64     `json:"group_id"`
	JoinDate time.Time `json:"join_date"`
}
