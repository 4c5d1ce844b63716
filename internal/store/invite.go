package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateInviteLink stores a link and sets l.ID.
func (q *Queries) CreateInviteLink(ctx context.Context, l *InviteLink) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO group_invite_links (token, group_id, created_by, expires_at, max_uses, uses, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		l.Token, l.GroupID, l.CreatedBy, nullInt(l.ExpiresAt), nullInt(l.MaxUses), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invite link: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

// GetInviteLink returns a link by token, or nil if unknown.
func (q *Queries) GetInviteLink(ctx context.Context, token string) (*InviteLink, error) {
	var (
		l                InviteLink
		expires, maxUses sql.NullInt64
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, token, group_id, created_by, expires_at, max_uses, uses, created_at
		FROM group_invite_links WHERE token = ?`, token).
		Scan(&l.ID, &l.Token, &l.GroupID, &l.CreatedBy, &expires, &maxUses, &l.Uses, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.ExpiresAt, l.MaxUses = intPtr(expires), intPtr(maxUses)
	return &l, nil
}

// RecordInviteUse counts one consumption of a link by user. It reports
// false when the link has no uses left.
func (q *Queries) RecordInviteUse(ctx context.Context, linkID, userID, at int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE group_invite_links SET uses = uses + 1
		WHERE id = ? AND (max_uses IS NULL OR uses < max_uses)`, linkID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := q.q.ExecContext(ctx, `
		INSERT INTO group_invite_uses (link_id, user_id, used_at) VALUES (?, ?, ?)
		ON CONFLICT(link_id, user_id) DO UPDATE SET used_at = excluded.used_at`,
		linkID, userID, at); err != nil {
		return false, err
	}
	return true, nil
}
