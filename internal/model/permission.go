package model

// Object types and permission kinds for per-object capability grants.
// Change and delete are granted and revoked together, but checked
// individually by the request layer.
const (
	ObjectGroup = "group"
	ObjectEvent = "event"

	PermChange = "change"
	PermDelete = "delete"
)
