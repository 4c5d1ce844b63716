package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const groupMessageColumns = `m.id, m.group_id, m.sender_id, COALESCE(u.display_name, ''), m.content, m.message_type,
	m.message_kind, m.media_url, m.media_mime, m.created_at, m.edited_at, m.deleted_for_all, m.reply_to_id, m.forwarded`

const groupMessageFrom = ` FROM group_messages m LEFT JOIN users u ON u.id = m.sender_id`

func scanGroupMessage(row interface{ Scan(...any) error }) (*GroupMessage, error) {
	var (
		m                   GroupMessage
		mediaURL, mediaMime sql.NullString
		editedAt, reply     sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Content, &m.Type,
		&m.Kind, &mediaURL, &mediaMime, &m.CreatedAt, &editedAt, &m.DeletedForAll, &reply, &m.Forwarded); err != nil {
		return nil, err
	}
	m.MediaURL, m.MediaMime = strPtr(mediaURL), strPtr(mediaMime)
	m.EditedAt, m.ReplyToID = intPtr(editedAt), intPtr(reply)
	return &m, nil
}

func scanGroupMessages(rows *sql.Rows) ([]GroupMessage, error) {
	defer func() { _ = rows.Close() }()
	var msgs []GroupMessage
	for rows.Next() {
		m, err := scanGroupMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// InsertGroupMessage stores a group message and sets m.ID.
func (q *Queries) InsertGroupMessage(ctx context.Context, m *GroupMessage) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO group_messages (group_id, sender_id, content, message_type, message_kind,
			media_url, media_mime, created_at, reply_to_id, forwarded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.GroupID, m.SenderID, m.Content, m.Type, m.Kind, nullStr(m.MediaURL), nullStr(m.MediaMime),
		m.CreatedAt, nullInt(m.ReplyToID), m.Forwarded)
	if err != nil {
		return fmt.Errorf("insert group message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// InsertReceipt creates the per-recipient delivery row of a group message.
func (q *Queries) InsertReceipt(ctx context.Context, messageID, userID int64, deliveredAt *int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO group_message_receipts (message_id, user_id, delivered_at) VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING`, messageID, userID, nullInt(deliveredAt))
	return err
}

// GetGroupMessage returns a group message by id, or nil if not found.
func (q *Queries) GetGroupMessage(ctx context.Context, id int64) (*GroupMessage, error) {
	m, err := scanGroupMessage(q.q.QueryRowContext(ctx, `SELECT `+groupMessageColumns+groupMessageFrom+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GroupHistory returns one page of a group's messages in ascending
// (created_at, id) order, skipping messages viewer hid.
func (q *Queries) GroupHistory(ctx context.Context, viewer, groupID int64, p Page) ([]GroupMessage, error) {
	base := `SELECT ` + groupMessageColumns + groupMessageFrom + `
		WHERE m.group_id = ?
		AND NOT EXISTS (SELECT 1 FROM message_visibility v
			WHERE v.message_type = 'group' AND v.message_id = m.id AND v.user_id = ?)`
	args := []any{groupID, viewer}

	switch {
	case p.AfterID > 0:
		rows, err := q.q.QueryContext(ctx, base+`
			AND (m.created_at, m.id) > (SELECT created_at, id FROM group_messages WHERE id = ?)
			ORDER BY m.created_at ASC, m.id ASC LIMIT ?`, append(args, p.AfterID, p.Limit)...)
		if err != nil {
			return nil, err
		}
		return scanGroupMessages(rows)
	case p.BeforeID > 0:
		base += ` AND (m.created_at, m.id) < (SELECT created_at, id FROM group_messages WHERE id = ?)`
		args = append(args, p.BeforeID)
	}
	rows, err := q.q.QueryContext(ctx, base+` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`, append(args, p.Limit)...)
	if err != nil {
		return nil, err
	}
	msgs, err := scanGroupMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// StampReceiptDelivered sets delivered_at on one receipt if still unset.
func (q *Queries) StampReceiptDelivered(ctx context.Context, messageID, userID, at int64) (bool, error) {
	var got int64
	err := q.q.QueryRowContext(ctx, `
		UPDATE group_message_receipts SET delivered_at = ?
		WHERE message_id = ? AND user_id = ? AND delivered_at IS NULL
		RETURNING message_id`, at, messageID, userID).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// DeliverPendingGroup stamps every undelivered receipt of user.
func (q *Queries) DeliverPendingGroup(ctx context.Context, userID, at int64) ([]Stamped, error) {
	rows, err := q.q.QueryContext(ctx, `
		UPDATE group_message_receipts SET delivered_at = ?
		WHERE user_id = ? AND delivered_at IS NULL
		RETURNING message_id,
			(SELECT g.sender_id FROM group_messages g WHERE g.id = group_message_receipts.message_id),
			(SELECT g.group_id FROM group_messages g WHERE g.id = group_message_receipts.message_id)`, at, userID)
	if err != nil {
		return nil, err
	}
	return scanStamped(rows, true)
}

// MarkReceiptsRead stamps read_at on every unread receipt user holds in group.
func (q *Queries) MarkReceiptsRead(ctx context.Context, groupID, userID, at int64) ([]Stamped, error) {
	rows, err := q.q.QueryContext(ctx, `
		UPDATE group_message_receipts SET read_at = ?, delivered_at = COALESCE(delivered_at, ?)
		WHERE user_id = ? AND read_at IS NULL
		AND message_id IN (SELECT id FROM group_messages WHERE group_id = ?)
		RETURNING message_id,
			(SELECT g.sender_id FROM group_messages g WHERE g.id = group_message_receipts.message_id),
			(SELECT g.group_id FROM group_messages g WHERE g.id = group_message_receipts.message_id)`, at, at, userID, groupID)
	if err != nil {
		return nil, err
	}
	return scanStamped(rows, true)
}

// NewestGroupMessage returns the id and created_at of the newest message in
// group, or zeros when the group is empty.
func (q *Queries) NewestGroupMessage(ctx context.Context, groupID int64) (id, createdAt int64, err error) {
	err = q.q.QueryRowContext(ctx, `
		SELECT id, created_at FROM group_messages WHERE group_id = ?
		ORDER BY id DESC LIMIT 1`, groupID).Scan(&id, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	return id, createdAt, err
}

// EditGroupMessage replaces the content of a group message.
func (q *Queries) EditGroupMessage(ctx context.Context, id int64, content string, at int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE group_messages SET content = ?, edited_at = ? WHERE id = ? AND deleted_for_all = 0`, content, at, id)
	return err
}

// DeleteGroupMessageForAll flags a group message as deleted for everyone.
func (q *Queries) DeleteGroupMessageForAll(ctx context.Context, id int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE group_messages SET deleted_for_all = 1 WHERE id = ?`, id)
	return err
}

// InsertMentions records the users mentioned by a group message.
func (q *Queries) InsertMentions(ctx context.Context, messageID int64, userIDs []int64) error {
	for _, uid := range userIDs {
		if _, err := q.q.ExecContext(ctx, `
			INSERT INTO group_mentions (message_id, user_id) VALUES (?, ?)
			ON CONFLICT(message_id, user_id) DO NOTHING`, messageID, uid); err != nil {
			return err
		}
	}
	return nil
}

// Mentions returns the mentioned user ids per message.
func (q *Queries) Mentions(ctx context.Context, messageIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := q.q.QueryContext(ctx, `SELECT message_id, user_id FROM group_mentions
		WHERE message_id IN (`+placeholders(len(messageIDs))+`) ORDER BY message_id, user_id`, int64Args(messageIDs)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var mid, uid int64
		if err := rows.Scan(&mid, &uid); err != nil {
			return nil, err
		}
		out[mid] = append(out[mid], uid)
	}
	return out, rows.Err()
}

// GroupUnread counts, per accepted and unblocked group, the messages from
// others newer than the member's read marker.
func (q *Queries) GroupUnread(ctx context.Context, userID int64) (map[int64]int, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT gm.group_id, (
			SELECT COUNT(*) FROM group_messages m
			WHERE m.group_id = gm.group_id
			AND m.sender_id != gm.user_id
			AND m.message_kind IN ('user', 'system')
			AND CASE WHEN gm.last_read_id IS NOT NULL THEN m.id > gm.last_read_id
				ELSE m.created_at > COALESCE(gm.last_read_at, gm.responded_at, gm.invited_at) END
			AND NOT EXISTS (SELECT 1 FROM message_visibility v
				WHERE v.message_type = 'group' AND v.message_id = m.id AND v.user_id = gm.user_id)
		)
		FROM group_members gm
		WHERE gm.user_id = ? AND gm.status = 'accepted'
		AND NOT EXISTS (SELECT 1 FROM group_blocks b WHERE b.group_id = gm.group_id AND b.user_id = gm.user_id)`,
		userID)
	if err != nil {
		return nil, err
	}
	return scanCounts(rows)
}

// GroupLastActivity returns the newest message timestamp per accepted,
// unblocked group. Groups without messages are absent.
func (q *Queries) GroupLastActivity(ctx context.Context, userID int64) (map[int64]int64, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT m.group_id, MAX(m.created_at)
		FROM group_messages m
		JOIN group_members gm ON gm.group_id = m.group_id AND gm.user_id = ? AND gm.status = 'accepted'
		WHERE NOT EXISTS (SELECT 1 FROM group_blocks b WHERE b.group_id = m.group_id AND b.user_id = gm.user_id)
		GROUP BY m.group_id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int64]int64)
	for rows.Next() {
		var gid, ts int64
		if err := rows.Scan(&gid, &ts); err != nil {
			return nil, err
		}
		out[gid] = ts
	}
	return out, rows.Err()
}
