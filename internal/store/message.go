package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/chat"
)

var _ chat.Persistence = (*DB)(nil)

// PersistMessage appends a message to chatID and returns its id and sequence.
func (db *DB) PersistMessage(ctx context.Context, chatID, senderID, body string) (chat.Persisted, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, chatID, senderID, body, now.UnixMilli())
	if err != nil {
		return chat.Persisted{}, fmt.Errorf("insert message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return chat.Persisted{}, err
	}
	return chat.Persisted{MessageID: id, Seq: seq, CreatedAt: now}, nil
}

// MarkRead records readerID as having read every message in chatID it did
// not send and returns the messages that were unread until now.
func (db *DB) MarkRead(ctx context.Context, chatID, readerID string) ([]chat.ReadMessage, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT m.id, m.sender_id
		FROM messages m
		LEFT JOIN message_reads r ON r.message_id = m.id AND r.reader_id = ?
		WHERE m.chat_id = ? AND m.sender_id <> ? AND r.message_id IS NULL
		ORDER BY m.seq`, readerID, chatID, readerID)
	if err != nil {
		return nil, err
	}
	var unread []chat.ReadMessage
	for rows.Next() {
		var m chat.ReadMessage
		if err := rows.Scan(&m.MessageID, &m.SenderID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		unread = append(unread, m)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	for _, m := range unread {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_reads (message_id, reader_id, read_at) VALUES (?, ?, ?)`,
			m.MessageID, readerID, now); err != nil {
			return nil, fmt.Errorf("insert read: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return unread, nil
}

// ListMessages returns messages in chatID with seq greater than afterSeq,
// oldest first.
func (db *DB) ListMessages(ctx context.Context, chatID string, afterSeq int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT seq, id, chat_id, sender_id, body, created_at
		FROM messages
		WHERE chat_id = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`, chatID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			m       Message
			created int64
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.ChatID, &m.SenderID, &m.Body, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
