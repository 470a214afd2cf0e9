package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetLastSeen records when userID's last session went away.
func (db *DB) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_presence (user_id, last_seen) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_seen = excluded.last_seen`,
		userID, at.UnixMilli())
	return err
}

// LastSeen returns the stored last-seen time. ok is false when the user has
// never disconnected.
func (db *DB) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	var ms int64
	err := db.QueryRowContext(ctx, `SELECT last_seen FROM user_presence WHERE user_id = ?`, userID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
