package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/opentavern/tavern/internal/model"
	"github.com/opentavern/tavern/internal/slugify"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var endsAt sql.NullTime
	err := scanner.Scan(&e.ID, &e.GroupID, &e.Name, &e.Description, &e.StartsAt, &endsAt,
		&e.Location, &e.Slug, &e.CreatorID, &e.Show, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endsAt.Valid {
		t := endsAt.Time
		e.EndsAt = &t
	}
	return &e, nil
}

func scanAttendee(scanner interface{ Scan(...any) error }) (*model.Attendee, error) {
	var a model.Attendee
	err := scanner.Scan(&a.ID, &a.UserID, &a.EventID, &a.RSVPStatus, &a.RSVPedOn)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const eventCols = `id, group_id, name, description, starts_at, ends_at, location, slug, creator_id, show, created_at, updated_at`
const attendeeCols = `id, user_id, event_id, rsvp_status, rsvped_on`

// Create persists a new event in the group, RSVPs the creator "yes", and
// grants change+delete to the creator, the group's creator, and every
// current organizer — all in one transaction. The creator must be a member
// of the group.
func (s *EventStore) Create(creatorID, groupID int64, name, description string, startsAt time.Time, endsAt *time.Time, location string) (*model.Event, error) {
	if endsAt != nil && endsAt.Before(startsAt) {
		return nil, fmt.Errorf("create event: %w", ErrEndsBeforeStarts)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var groupCreatorID int64
	err = tx.QueryRow(`SELECT creator_id FROM groups WHERE id = ?`, groupID).Scan(&groupCreatorID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("create event: group: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	var one int
	err = tx.QueryRow(
		`SELECT 1 FROM memberships WHERE user_id = ? AND group_id = ?`,
		creatorID, groupID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("create event: %w", ErrNotAMember)
	}
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	slug, err := slugify.Unique(name, slugTaken(tx,
		`SELECT 1 FROM events WHERE group_id = ? AND slug = ?`, groupID))
	if err != nil {
		return nil, fmt.Errorf("compute event slug: %w", err)
	}

	var endsAtVal any
	if endsAt != nil {
		endsAtVal = endsAt.UTC()
	}
	result, err := tx.Exec(
		`INSERT INTO events (group_id, name, description, starts_at, ends_at, location, slug, creator_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		groupID, name, description, startsAt.UTC(), endsAtVal, location, slug, creatorID,
	)
	if err != nil {
		return nil, wrapConstraint("insert event", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO attendees (user_id, event_id, rsvp_status, rsvped_on) VALUES (?, ?, ?, ?)`,
		creatorID, id, model.RSVPYes, time.Now().UTC(),
	); err != nil {
		return nil, wrapConstraint("insert creator attendee", err)
	}

	if err := grant(tx, creatorID, model.ObjectEvent, id); err != nil {
		return nil, err
	}
	if err := grant(tx, groupCreatorID, model.ObjectEvent, id); err != nil {
		return nil, err
	}
	organizerIDs, err := groupOrganizerIDs(tx, groupID)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	for _, uid := range organizerIDs {
		if err := grant(tx, uid, model.ObjectEvent, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *EventStore) GetByID(id int64) (*model.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *EventStore) GetBySlug(groupID int64, slug string) (*model.Event, error) {
	row := s.db.QueryRow(
		`SELECT `+eventCols+` FROM events WHERE group_id = ? AND slug = ?`,
		groupID, slug,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event by slug: %w", err)
	}
	return e, nil
}

func (s *EventStore) ListByGroup(groupID int64) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM events WHERE group_id = ? ORDER BY starts_at ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list group events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Update changes an event's fields. The slug is recomputed (scoped to the
// owning group) only when the name changes; attendee records are never
// touched here.
func (s *EventStore) Update(id int64, name, description string, startsAt time.Time, endsAt *time.Time, location string, show bool) (*model.Event, error) {
	if endsAt != nil && endsAt.Before(startsAt) {
		return nil, fmt.Errorf("update event: %w", ErrEndsBeforeStarts)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanEvent(tx.QueryRow(`SELECT `+eventCols+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("update event: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	slug := existing.Slug
	if name != existing.Name {
		slug, err = slugify.Unique(name, slugTaken(tx,
			`SELECT 1 FROM events WHERE group_id = ? AND id != ? AND slug = ?`,
			existing.GroupID, id))
		if err != nil {
			return nil, fmt.Errorf("compute event slug: %w", err)
		}
	}

	var endsAtVal any
	if endsAt != nil {
		endsAtVal = endsAt.UTC()
	}
	if _, err := tx.Exec(
		`UPDATE events SET name = ?, description = ?, starts_at = ?, ends_at = ?, location = ?, slug = ?,
		 show = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, description, startsAt.UTC(), endsAtVal, location, slug, show, id,
	); err != nil {
		return nil, wrapConstraint("update event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// Delete removes the event, its attendee records, and every permission grant
// on it, in one transaction.
func (s *EventStore) Delete(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRow(`SELECT 1 FROM events WHERE id = ?`, id).Scan(&one); err == sql.ErrNoRows {
		return fmt.Errorf("delete event: %w", ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}

	if err := revokeAll(tx, model.ObjectEvent, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM attendees WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("delete attendees: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SetRSVP records the user's RSVP for the event, creating the attendee row or
// updating its status. The timestamp is refreshed on every change. The
// existence check and the upsert share one transaction, so a concurrently
// deleted event surfaces as NotFound.
func (s *EventStore) SetRSVP(userID, eventID int64, status string) (*model.Attendee, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow(`SELECT 1 FROM events WHERE id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("set rsvp: event: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("set rsvp: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO attendees (user_id, event_id, rsvp_status, rsvped_on)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, event_id) DO UPDATE SET
			rsvp_status = excluded.rsvp_status,
			rsvped_on = excluded.rsvped_on`,
		userID, eventID, status, time.Now().UTC(),
	); err != nil {
		return nil, wrapConstraint("upsert rsvp", err)
	}

	attendee, err := scanAttendee(tx.QueryRow(
		`SELECT `+attendeeCols+` FROM attendees WHERE user_id = ? AND event_id = ?`,
		userID, eventID,
	))
	if err != nil {
		return nil, fmt.Errorf("set rsvp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return attendee, nil
}

func (s *EventStore) GetAttendee(userID, eventID int64) (*model.Attendee, error) {
	row := s.db.QueryRow(
		`SELECT `+attendeeCols+` FROM attendees WHERE user_id = ? AND event_id = ?`,
		userID, eventID,
	)
	a, err := scanAttendee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendee: %w", err)
	}
	return a, nil
}

func (s *EventStore) GetAttendeeByID(id int64) (*model.Attendee, error) {
	row := s.db.QueryRow(`SELECT `+attendeeCols+` FROM attendees WHERE id = ?`, id)
	a, err := scanAttendee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendee: %w", err)
	}
	return a, nil
}

// DeleteRSVP removes a single attendee record. No cascading effects.
func (s *EventStore) DeleteRSVP(attendeeID int64) error {
	result, err := s.db.Exec(`DELETE FROM attendees WHERE id = ?`, attendeeID)
	if err != nil {
		return fmt.Errorf("delete rsvp: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rsvp: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete rsvp: %w", ErrNotFound)
	}
	return nil
}

// Upcoming returns visible events starting at or after now, soonest first.
// The reference time is supplied per call, never cached.
func (s *EventStore) Upcoming(now time.Time) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM events WHERE show = 1 AND starts_at >= ? ORDER BY starts_at ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Past returns visible events that started before now, most recent first.
func (s *EventStore) Past(now time.Time) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM events WHERE show = 1 AND starts_at < ? ORDER BY starts_at DESC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list past events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// RSVPed returns every event the user holds an attendee record for, paired
// with the RSVP status.
func (s *EventStore) RSVPed(userID int64) ([]model.EventRSVP, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.group_id, e.name, e.description, e.starts_at, e.ends_at, e.location, e.slug,
			e.creator_id, e.show, e.created_at, e.updated_at, a.rsvp_status
		 FROM events e
		 JOIN attendees a ON e.id = a.event_id
		 WHERE a.user_id = ?
		 ORDER BY e.starts_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rsvped events: %w", err)
	}
	defer rows.Close()

	var result []model.EventRSVP
	for rows.Next() {
		var e model.Event
		var endsAt sql.NullTime
		var status string
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Name, &e.Description, &e.StartsAt, &endsAt,
			&e.Location, &e.Slug, &e.CreatorID, &e.Show, &e.CreatedAt, &e.UpdatedAt, &status); err != nil {
			return nil, fmt.Errorf("scan rsvped event: %w", err)
		}
		if endsAt.Valid {
			t := endsAt.Time
			e.EndsAt = &t
		}
		result = append(result, model.EventRSVP{Event: e, RSVPStatus: status})
	}
	return result, rows.Err()
}

// AttendeesByStatus returns the event's attendee records, optionally filtered
// to one RSVP status. Pass an empty status for all.
func (s *EventStore) AttendeesByStatus(eventID int64, status string) ([]model.Attendee, error) {
	query := `SELECT ` + attendeeCols + ` FROM attendees WHERE event_id = ?`
	args := []any{eventID}
	if status != "" {
		query += ` AND rsvp_status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY rsvped_on ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	var attendees []model.Attendee
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		attendees = append(attendees, *a)
	}
	return attendees, rows.Err()
}

func groupOrganizerIDs(tx *sql.Tx, groupID int64) ([]int64, error) {
	rows, err := tx.Query(`SELECT user_id FROM group_organizers WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list organizer ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organizer id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
