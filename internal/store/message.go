package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const messageColumns = `m.id, m.sender_id, m.receiver_id, COALESCE(u.display_name, ''), m.content, m.message_type,
	m.media_url, m.media_mime, m.created_at, m.is_read, m.delivered_at, m.read_at, m.edited_at,
	m.deleted_for_all, m.reply_to_id, m.forwarded`

const messageFrom = ` FROM messages m LEFT JOIN users u ON u.id = m.sender_id`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var (
		m                                    Message
		mediaURL, mediaMime                  sql.NullString
		deliveredAt, readAt, editedAt, reply sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.SenderName, &m.Content, &m.Type,
		&mediaURL, &mediaMime, &m.CreatedAt, &m.IsRead, &deliveredAt, &readAt, &editedAt,
		&m.DeletedForAll, &reply, &m.Forwarded); err != nil {
		return nil, err
	}
	m.MediaURL, m.MediaMime = strPtr(mediaURL), strPtr(mediaMime)
	m.DeliveredAt, m.ReadAt, m.EditedAt = intPtr(deliveredAt), intPtr(readAt), intPtr(editedAt)
	m.ReplyToID = intPtr(reply)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// InsertMessage stores a direct message and sets m.ID.
func (q *Queries) InsertMessage(ctx context.Context, m *Message) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, message_type, media_url, media_mime,
			created_at, is_read, delivered_at, read_at, reply_to_id, forwarded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SenderID, m.ReceiverID, m.Content, m.Type, nullStr(m.MediaURL), nullStr(m.MediaMime),
		m.CreatedAt, m.IsRead, nullInt(m.DeliveredAt), nullInt(m.ReadAt), nullInt(m.ReplyToID), m.Forwarded)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// GetMessage returns a direct message by id, or nil if not found.
func (q *Queries) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(q.q.QueryRowContext(ctx, `SELECT `+messageColumns+messageFrom+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// DirectHistory returns one page of the conversation between viewer and peer
// in ascending (created_at, id) order. Messages viewer hid are skipped.
func (q *Queries) DirectHistory(ctx context.Context, viewer, peer int64, p Page) ([]Message, error) {
	base := `SELECT ` + messageColumns + messageFrom + `
		WHERE ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))
		AND NOT EXISTS (SELECT 1 FROM message_visibility v
			WHERE v.message_type = 'dm' AND v.message_id = m.id AND v.user_id = ?)`
	args := []any{viewer, peer, peer, viewer, viewer}

	switch {
	case p.AfterID > 0:
		rows, err := q.q.QueryContext(ctx, base+`
			AND (m.created_at, m.id) > (SELECT created_at, id FROM messages WHERE id = ?)
			ORDER BY m.created_at ASC, m.id ASC LIMIT ?`, append(args, p.AfterID, p.Limit)...)
		if err != nil {
			return nil, err
		}
		return scanMessages(rows)
	case p.BeforeID > 0:
		base += ` AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = ?)`
		args = append(args, p.BeforeID)
	}
	rows, err := q.q.QueryContext(ctx, base+` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`, append(args, p.Limit)...)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// StampDelivered sets delivered_at on a direct message if it is still unset.
// It reports whether the row changed.
func (q *Queries) StampDelivered(ctx context.Context, id, at int64) (bool, error) {
	var got int64
	err := q.q.QueryRowContext(ctx, `
		UPDATE messages SET delivered_at = ?
		WHERE id = ? AND delivered_at IS NULL
		RETURNING id`, at, id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func scanStamped(rows *sql.Rows, withGroup bool) ([]Stamped, error) {
	defer func() { _ = rows.Close() }()
	var out []Stamped
	for rows.Next() {
		var s Stamped
		dest := []any{&s.MessageID, &s.SenderID}
		if withGroup {
			dest = append(dest, &s.GroupID)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeliverPendingDirect marks every undelivered message addressed to
// receiver as delivered and returns what changed.
func (q *Queries) DeliverPendingDirect(ctx context.Context, receiver, at int64) ([]Stamped, error) {
	rows, err := q.q.QueryContext(ctx, `
		UPDATE messages SET delivered_at = ?
		WHERE receiver_id = ? AND delivered_at IS NULL AND read_at IS NULL
		RETURNING id, sender_id`, at, receiver)
	if err != nil {
		return nil, err
	}
	return scanStamped(rows, false)
}

// MarkRead marks the listed messages read where viewer is the receiver and
// they are still unread. delivered_at is filled when missing.
func (q *Queries) MarkRead(ctx context.Context, viewer int64, ids []int64, at int64) ([]Stamped, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := append([]any{at, at, viewer}, int64Args(ids)...)
	rows, err := q.q.QueryContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?, delivered_at = COALESCE(delivered_at, ?)
		WHERE receiver_id = ? AND is_read = 0 AND id IN (`+placeholders(len(ids))+`)
		RETURNING id, sender_id`, args...)
	if err != nil {
		return nil, err
	}
	return scanStamped(rows, false)
}

// MarkConversationRead marks every unread message from peer to viewer read.
func (q *Queries) MarkConversationRead(ctx context.Context, viewer, peer, at int64) ([]Stamped, error) {
	rows, err := q.q.QueryContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?, delivered_at = COALESCE(delivered_at, ?)
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
		RETURNING id, sender_id`, at, at, viewer, peer)
	if err != nil {
		return nil, err
	}
	return scanStamped(rows, false)
}

// EditMessage replaces the content of a direct message.
func (q *Queries) EditMessage(ctx context.Context, id int64, content string, at int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE messages SET content = ?, edited_at = ? WHERE id = ? AND deleted_for_all = 0`, content, at, id)
	return err
}

// DeleteMessageForAll flags a direct message as deleted for everyone.
func (q *Queries) DeleteMessageForAll(ctx context.Context, id int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE messages SET deleted_for_all = 1 WHERE id = ?`, id)
	return err
}

// Hide records that user no longer wants to see a message.
func (q *Queries) Hide(ctx context.Context, kind string, messageID, userID, at int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO message_visibility (message_type, message_id, user_id, hidden_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_type, message_id, user_id) DO UPDATE SET hidden_at = excluded.hidden_at`,
		kind, messageID, userID, at)
	return err
}

// Hidden reports whether user hid the message.
func (q *Queries) Hidden(ctx context.Context, kind string, messageID, userID int64) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_visibility WHERE message_type = ? AND message_id = ? AND user_id = ?`,
		kind, messageID, userID).Scan(&n)
	return n > 0, err
}

// Star bookmarks a direct message for user. Starring twice is a no-op.
func (q *Queries) Star(ctx context.Context, userID, messageID, at int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO starred_messages (user_id, message_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, message_id) DO NOTHING`, userID, messageID, at)
	return err
}

// Unstar removes a bookmark.
func (q *Queries) Unstar(ctx context.Context, userID, messageID int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM starred_messages WHERE user_id = ? AND message_id = ?`, userID, messageID)
	return err
}

// StarredMessages returns user's bookmarks, newest bookmark first.
func (q *Queries) StarredMessages(ctx context.Context, userID int64) ([]Message, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+messageColumns+messageFrom+`
		JOIN starred_messages s ON s.message_id = m.id
		WHERE s.user_id = ?
		AND NOT EXISTS (SELECT 1 FROM message_visibility v
			WHERE v.message_type = 'dm' AND v.message_id = m.id AND v.user_id = s.user_id)
		ORDER BY s.created_at DESC, m.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// StarredIDs returns which of ids user has starred.
func (q *Queries) StarredIDs(ctx context.Context, userID int64, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.q.QueryContext(ctx, `SELECT message_id FROM starred_messages
		WHERE user_id = ? AND message_id IN (`+placeholders(len(ids))+`)`,
		append([]any{userID}, int64Args(ids)...)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// DirectUnread counts unread messages addressed to user, per sender.
func (q *Queries) DirectUnread(ctx context.Context, userID int64) (map[int64]int, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT m.sender_id, COUNT(*) FROM messages m
		WHERE m.receiver_id = ? AND m.is_read = 0
		AND NOT EXISTS (SELECT 1 FROM message_visibility v
			WHERE v.message_type = 'dm' AND v.message_id = m.id AND v.user_id = m.receiver_id)
		GROUP BY m.sender_id`, userID)
	if err != nil {
		return nil, err
	}
	return scanCounts(rows)
}

// DirectLastActivity returns the newest message timestamp per peer.
func (q *Queries) DirectLastActivity(ctx context.Context, userID int64) (map[int64]int64, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS peer, MAX(created_at)
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		GROUP BY peer`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int64]int64)
	for rows.Next() {
		var peer, ts int64
		if err := rows.Scan(&peer, &ts); err != nil {
			return nil, err
		}
		out[peer] = ts
	}
	return out, rows.Err()
}

func scanCounts(rows *sql.Rows) (map[int64]int, error) {
	defer func() { _ = rows.Close() }()
	out := make(map[int64]int)
	for rows.Next() {
		var (
			id int64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
