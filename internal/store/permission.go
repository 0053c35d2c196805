package store

import (
	"database/sql"
	"fmt"

	"github.com/opentavern/tavern/internal/model"
)

// PermissionStore answers the authorization predicate used by the request
// layer before allowing an update or delete. Grants themselves are written
// and revoked inside the group/event lifecycle transactions.
type PermissionStore struct {
	db *sql.DB
}

func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

// CanModify reports whether a grant of the required kind exists for
// (user, object).
func (s *PermissionStore) CanModify(userID int64, objectType string, objectID int64, permission string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM object_permissions
		 WHERE user_id = ? AND object_type = ? AND object_id = ? AND permission = ?`,
		userID, objectType, objectID, permission,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return true, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// grant gives userID change+delete capability on the object. Idempotent, so
// a creator who is also an organizer holds a single set of rows.
func grant(e execer, userID int64, objectType string, objectID int64) error {
	for _, perm := range []string{model.PermChange, model.PermDelete} {
		if _, err := e.Exec(
			`INSERT OR IGNORE INTO object_permissions (user_id, object_type, object_id, permission)
			 VALUES (?, ?, ?, ?)`,
			userID, objectType, objectID, perm,
		); err != nil {
			return fmt.Errorf("grant %s on %s %d: %w", perm, objectType, objectID, err)
		}
	}
	return nil
}

// revoke removes all of userID's grants on the object.
func revoke(e execer, userID int64, objectType string, objectID int64) error {
	if _, err := e.Exec(
		`DELETE FROM object_permissions WHERE user_id = ? AND object_type = ? AND object_id = ?`,
		userID, objectType, objectID,
	); err != nil {
		return fmt.Errorf("revoke on %s %d: %w", objectType, objectID, err)
	}
	return nil
}

// revokeAll removes every grant on the object, for all users. Used when the
// object itself is deleted.
func revokeAll(e execer, objectType string, objectID int64) error {
	if _, err := e.Exec(
		`DELETE FROM object_permissions WHERE object_type = ? AND object_id = ?`,
		objectType, objectID,
	); err != nil {
		return fmt.Errorf("revoke all on %s %d: %w", objectType, objectID, err)
	}
	return nil
}
