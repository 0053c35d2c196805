package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/opentavern/tavern/internal/model"
	"github.com/opentavern/tavern/internal/slugify"
)

// Membership toggle outcomes.
const (
	Joined = "joined"
	Left   = "left"
)

type GroupStore struct {
	db *sql.DB
}

func NewGroupStore(db *sql.DB) *GroupStore {
	return &GroupStore{db: db}
}

func scanGroup(scanner interface{ Scan(...any) error }) (*model.Group, error) {
	var g model.Group
	err := scanner.Scan(&g.ID, &g.Name, &g.Description, &g.MembersName, &g.Slug,
		&g.CreatorID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanMembership(scanner interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	err := scanner.Scan(&m.ID, &m.UserID, &m.GroupID, &m.JoinDate)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const groupCols = `id, name, description, members_name, slug, creator_id, created_at, updated_at`
const membershipCols = `id, user_id, group_id, join_date`

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

// slugTaken adapts a uniqueness query into a slugify.ExistsFunc. The
// candidate slug is appended as the final query argument.
func slugTaken(q querier, query string, args ...any) slugify.ExistsFunc {
	return func(candidate string) (bool, error) {
		var one int
		err := q.QueryRow(query, append(args, candidate)...).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

// Create persists a new group, makes the creator its first member, and
// grants the creator change+delete on it — all in one transaction.
func (s *GroupStore) Create(creatorID int64, name, description, membersName string) (*model.Group, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	slug, err := slugify.Unique(name, slugTaken(tx, `SELECT 1 FROM groups WHERE slug = ?`))
	if err != nil {
		return nil, fmt.Errorf("compute group slug: %w", err)
	}

	result, err := tx.Exec(
		`INSERT INTO groups (name, description, members_name, slug, creator_id) VALUES (?, ?, ?, ?, ?)`,
		name, description, membersName, slug, creatorID,
	)
	if err != nil {
		return nil, wrapConstraint("insert group", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO memberships (user_id, group_id, join_date) VALUES (?, ?, ?)`,
		creatorID, id, time.Now().UTC(),
	); err != nil {
		return nil, wrapConstraint("insert creator membership", err)
	}

	if err := grant(tx, creatorID, model.ObjectGroup, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *GroupStore) GetByID(id int64) (*model.Group, error) {
	row := s.db.QueryRow(`SELECT `+groupCols+` FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (s *GroupStore) GetBySlug(slug string) (*model.Group, error) {
	row := s.db.QueryRow(`SELECT `+groupCols+` FROM groups WHERE slug = ?`, slug)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group by slug: %w", err)
	}
	return g, nil
}

func (s *GroupStore) ListAll() ([]model.Group, error) {
	rows, err := s.db.Query(`SELECT ` + groupCols + ` FROM groups ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	return collectGroups(rows)
}

// Update changes a group's fields. The slug is recomputed only when the name
// changes; membership records are never touched here.
func (s *GroupStore) Update(id int64, name, description, membersName string) (*model.Group, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanGroup(tx.QueryRow(`SELECT `+groupCols+` FROM groups WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("update group: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}

	slug := existing.Slug
	if name != existing.Name {
		slug, err = slugify.Unique(name, slugTaken(tx,
			`SELECT 1 FROM groups WHERE id != ? AND slug = ?`, id))
		if err != nil {
			return nil, fmt.Errorf("compute group slug: %w", err)
		}
	}

	if _, err := tx.Exec(
		`UPDATE groups SET name = ?, description = ?, members_name = ?, slug = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		name, description, membersName, slug, id,
	); err != nil {
		return nil, wrapConstraint("update group", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// Delete removes the group, cascading to its memberships, organizers, events
// and their attendees, and revokes every permission grant tied to the group
// or its events.
func (s *GroupStore) Delete(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRow(`SELECT 1 FROM groups WHERE id = ?`, id).Scan(&one); err == sql.ErrNoRows {
		return fmt.Errorf("delete group: %w", ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	steps := []struct {
		desc  string
		query string
	}{
		{"revoke event grants", `DELETE FROM object_permissions WHERE object_type = 'event'
			AND object_id IN (SELECT id FROM events WHERE group_id = ?)`},
		{"revoke group grants", `DELETE FROM object_permissions WHERE object_type = 'group' AND object_id = ?`},
		{"delete attendees", `DELETE FROM attendees WHERE event_id IN (SELECT id FROM events WHERE group_id = ?)`},
		{"delete events", `DELETE FROM events WHERE group_id = ?`},
		{"delete memberships", `DELETE FROM memberships WHERE group_id = ?`},
		{"delete organizers", `DELETE FROM group_organizers WHERE group_id = ?`},
		{"delete group", `DELETE FROM groups WHERE id = ?`},
	}
	for _, st := range steps {
		if _, err := tx.Exec(st.query, id); err != nil {
			return fmt.Errorf("%s: %w", st.desc, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ToggleMembership joins the user to the group if no membership exists, or
// removes the existing one. Two toggles return to the original state.
func (s *GroupStore) ToggleMembership(userID, groupID int64) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRow(`SELECT 1 FROM groups WHERE id = ?`, groupID).Scan(&one); err == sql.ErrNoRows {
		return "", fmt.Errorf("toggle membership: group: %w", ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("toggle membership: %w", err)
	}
	if err := tx.QueryRow(`SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one); err == sql.ErrNoRows {
		return "", fmt.Errorf("toggle membership: user: %w", ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("toggle membership: %w", err)
	}

	var membershipID int64
	err = tx.QueryRow(
		`SELECT id FROM memberships WHERE user_id = ? AND group_id = ?`,
		userID, groupID,
	).Scan(&membershipID)

	var outcome string
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(
			`INSERT INTO memberships (user_id, group_id, join_date) VALUES (?, ?, ?)`,
			userID, groupID, time.Now().UTC(),
		); err != nil {
			return "", wrapConstraint("insert membership", err)
		}
		outcome = Joined
	case err != nil:
		return "", fmt.Errorf("toggle membership: %w", err)
	default:
		if _, err := tx.Exec(`DELETE FROM memberships WHERE id = ?`, membershipID); err != nil {
			return "", fmt.Errorf("delete membership: %w", err)
		}
		outcome = Left
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return outcome, nil
}

func (s *GroupStore) IsMember(userID, groupID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM memberships WHERE user_id = ? AND group_id = ?`,
		userID, groupID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// Joined returns the groups the user is a member of.
func (s *GroupStore) Joined(userID int64) ([]model.Group, error) {
	rows, err := s.db.Query(
		`SELECT g.id, g.name, g.description, g.members_name, g.slug, g.creator_id, g.created_at, g.updated_at
		 FROM groups g
		 JOIN memberships m ON g.id = m.group_id
		 WHERE m.user_id = ?
		 ORDER BY g.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list joined groups: %w", err)
	}
	defer rows.Close()
	return collectGroups(rows)
}

// Unjoined returns all groups minus the ones the user belongs to.
func (s *GroupStore) Unjoined(userID int64) ([]model.Group, error) {
	rows, err := s.db.Query(
		`SELECT `+groupCols+` FROM groups
		 WHERE id NOT IN (SELECT group_id FROM memberships WHERE user_id = ?)
		 ORDER BY name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list unjoined groups: %w", err)
	}
	defer rows.Close()
	return collectGroups(rows)
}

// RecentMembers returns the group's most recently joined memberships, newest
// first, truncated to limit.
func (s *GroupStore) RecentMembers(groupID int64, limit int) ([]model.Membership, error) {
	rows, err := s.db.Query(
		`SELECT `+membershipCols+` FROM memberships
		 WHERE group_id = ?
		 ORDER BY join_date DESC
		 LIMIT ?`,
		groupID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent members: %w", err)
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// Organizers returns the users currently organizing the group.
func (s *GroupStore) Organizers(groupID int64) ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT u.id, u.username, u.email, u.password_hash, u.created_at
		 FROM users u
		 JOIN group_organizers o ON u.id = o.user_id
		 WHERE o.group_id = ?
		 ORDER BY u.username ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list organizers: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organizer: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// AddOrganizers makes each named user an organizer of the group and grants
// change+delete on the group and on every existing event it owns. Every
// username must resolve to a user; otherwise the whole batch fails with a
// ValidationError and nothing is applied.
func (s *GroupStore) AddOrganizers(groupID int64, usernames []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRow(`SELECT 1 FROM groups WHERE id = ?`, groupID).Scan(&one); err == sql.ErrNoRows {
		return fmt.Errorf("add organizers: group: %w", ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("add organizers: %w", err)
	}

	userIDs, missing, err := resolveUsernames(tx, usernames)
	if err != nil {
		return fmt.Errorf("add organizers: %w", err)
	}
	if len(missing) > 0 {
		return &ValidationError{Reason: "not a user", Usernames: missing}
	}

	eventIDs, err := groupEventIDs(tx, groupID)
	if err != nil {
		return fmt.Errorf("add organizers: %w", err)
	}

	for _, uid := range userIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO group_organizers (group_id, user_id) VALUES (?, ?)`,
			groupID, uid,
		); err != nil {
			return fmt.Errorf("insert organizer: %w", err)
		}
		if err := grant(tx, uid, model.ObjectGroup, groupID); err != nil {
			return err
		}
		for _, eid := range eventIDs {
			if err := grant(tx, uid, model.ObjectEvent, eid); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RemoveOrganizers strips each named user of the organizer role and its
// derived grants. Every name must be a current organizer; otherwise the whole
// batch fails with a ValidationError and nothing is applied. Grants a user
// also holds as group creator or event creator survive.
func (s *GroupStore) RemoveOrganizers(groupID int64, usernames []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	group, err := scanGroup(tx.QueryRow(`SELECT `+groupCols+` FROM groups WHERE id = ?`, groupID))
	if err == sql.ErrNoRows {
		return fmt.Errorf("remove organizers: group: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("remove organizers: %w", err)
	}

	userIDs, missing, err := resolveUsernames(tx, usernames)
	if err != nil {
		return fmt.Errorf("remove organizers: %w", err)
	}
	// A name that doesn't resolve to a user isn't an organizer either.
	notOrganizers := missing
	for i, uid := range userIDs {
		if uid == 0 {
			continue
		}
		var one int
		err := tx.QueryRow(
			`SELECT 1 FROM group_organizers WHERE group_id = ? AND user_id = ?`,
			groupID, uid,
		).Scan(&one)
		if err == sql.ErrNoRows {
			notOrganizers = append(notOrganizers, usernames[i])
			continue
		}
		if err != nil {
			return fmt.Errorf("remove organizers: %w", err)
		}
	}
	if len(notOrganizers) > 0 {
		return &ValidationError{Reason: "not an organizer", Usernames: notOrganizers}
	}

	events, err := groupEventCreators(tx, groupID)
	if err != nil {
		return fmt.Errorf("remove organizers: %w", err)
	}

	for _, uid := range userIDs {
		if _, err := tx.Exec(
			`DELETE FROM group_organizers WHERE group_id = ? AND user_id = ?`,
			groupID, uid,
		); err != nil {
			return fmt.Errorf("delete organizer: %w", err)
		}
		if uid != group.CreatorID {
			if err := revoke(tx, uid, model.ObjectGroup, groupID); err != nil {
				return err
			}
		}
		for eid, creatorID := range events {
			if uid == creatorID || uid == group.CreatorID {
				continue
			}
			if err := revoke(tx, uid, model.ObjectEvent, eid); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// resolveUsernames maps each username to a user ID, index-aligned with the
// input. Usernames that don't exist are collected in missing and leave a zero
// entry in userIDs.
func resolveUsernames(q querier, usernames []string) (userIDs []int64, missing []string, err error) {
	userIDs = make([]int64, len(usernames))
	for i, name := range usernames {
		var id int64
		err := q.QueryRow(`SELECT id FROM users WHERE username = ?`, name).Scan(&id)
		if err == sql.ErrNoRows {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("resolve username %q: %w", name, err)
		}
		userIDs[i] = id
	}
	return userIDs, missing, nil
}

func groupEventIDs(tx *sql.Tx, groupID int64) ([]int64, error) {
	rows, err := tx.Query(`SELECT id FROM events WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group events: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func groupEventCreators(tx *sql.Tx, groupID int64) (map[int64]int64, error) {
	rows, err := tx.Query(`SELECT id, creator_id FROM events WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group events: %w", err)
	}
	defer rows.Close()

	creators := make(map[int64]int64)
	for rows.Next() {
		var id, creatorID int64
		if err := rows.Scan(&id, &creatorID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		creators[id] = creatorID
	}
	return creators, rows.Err()
}

func collectGroups(rows *sql.Rows) ([]model.Group, error) {
	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}
