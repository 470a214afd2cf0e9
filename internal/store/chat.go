package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/chat"
)

var _ chat.Directory = (*DB)(nil)

// directKey identifies an unordered user pair.
func directKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// CreateGroup inserts a group chat with the given members and returns its id.
func (db *DB) CreateGroup(ctx context.Context, name string, members []string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, kind, name, created_at) VALUES (?, ?, ?, ?)`,
		id, chat.KindGroup, name, now); err != nil {
		return "", fmt.Errorf("insert group: %w", err)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)`,
			id, m, now); err != nil {
			return "", fmt.Errorf("insert member %s: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// AddMember adds userID to a group chat. Direct chats have a fixed pair of
// members and reject additions.
func (db *DB) AddMember(ctx context.Context, chatID, userID string) error {
	kind, err := db.KindOf(ctx, chatID)
	if err != nil {
		return err
	}
	if kind != chat.KindGroup {
		return fmt.Errorf("%w: %s is not a group", chat.ErrInvalidDestination, chatID)
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)`,
		chatID, userID, time.Now().UnixMilli())
	return err
}

// GetChat returns a single chat by id, or nil if it does not exist.
func (db *DB) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var (
		c       Chat
		kind    string
		created int64
	)
	err := db.QueryRowContext(ctx, `SELECT id, kind, name, created_at FROM chats WHERE id = ?`, chatID).
		Scan(&c.ID, &kind, &c.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Kind = chat.Kind(kind)
	c.CreatedAt = time.UnixMilli(created)
	return &c, nil
}

// MembersOf returns the members of chatID. An unknown chat has no members.
func (db *DB) MembersOf(ctx context.Context, chatID string) ([]string, error) {
	return db.queryStrings(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = ? ORDER BY joined_at, user_id`, chatID)
}

func (db *DB) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM chat_members WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (db *DB) KindOf(ctx context.Context, chatID string) (chat.Kind, error) {
	var kind string
	err := db.QueryRowContext(ctx, `SELECT kind FROM chats WHERE id = ?`, chatID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", chat.ErrChatNotFound, chatID)
	}
	if err != nil {
		return "", err
	}
	return chat.Kind(kind), nil
}

// DirectChat returns the 1:1 chat between a and b, creating it on first use.
func (db *DB) DirectChat(ctx context.Context, a, b string) (string, error) {
	key := directKey(a, b)

	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM chats WHERE direct_key = ?`, key).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	id = uuid.NewString()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, kind, direct_key, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(direct_key) DO NOTHING`,
		id, chat.KindDirect, key, now)
	if err != nil {
		return "", fmt.Errorf("insert direct chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another writer.
		if err := tx.QueryRowContext(ctx, `SELECT id FROM chats WHERE direct_key = ?`, key).Scan(&id); err != nil {
			return "", err
		}
		return id, tx.Commit()
	}
	for _, u := range []string{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)`,
			id, u, now); err != nil {
			return "", fmt.Errorf("insert member %s: %w", u, err)
		}
	}
	return id, tx.Commit()
}

// DirectPeers returns every user that shares a direct chat with userID.
func (db *DB) DirectPeers(ctx context.Context, userID string) ([]string, error) {
	return db.queryStrings(ctx, `
		SELECT DISTINCT other.user_id
		FROM chat_members me
		JOIN chats c ON c.id = me.chat_id AND c.kind = 'direct'
		JOIN chat_members other ON other.chat_id = me.chat_id AND other.user_id <> me.user_id
		WHERE me.user_id = ?
		ORDER BY other.user_id`, userID)
}

// Counts returns the number of chats and messages.
func (db *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM chats), (SELECT COUNT(*) FROM messages)`).
		Scan(&c.Chats, &c.Messages)
	return c, err
}

func (db *DB) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
