package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetSetting returns the overlay of one conversation, or nil if never set.
func (q *Queries) GetSetting(ctx context.Context, userID int64, convType string, convID int64) (*ConversationSetting, error) {
	var (
		s           ConversationSetting
		rank, muted sql.NullInt64
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT user_id, conv_type, conv_id, is_archived, pinned_rank, muted_until
		FROM conversation_settings WHERE user_id = ? AND conv_type = ? AND conv_id = ?`,
		userID, convType, convID).Scan(&s.UserID, &s.ConvType, &s.ConvID, &s.IsArchived, &rank, &muted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.PinnedRank, s.MutedUntil = intPtr(rank), intPtr(muted)
	return &s, nil
}

// ListSettings returns every overlay of user.
func (q *Queries) ListSettings(ctx context.Context, userID int64) ([]ConversationSetting, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_id, conv_type, conv_id, is_archived, pinned_rank, muted_until
		FROM conversation_settings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []ConversationSetting
	for rows.Next() {
		var (
			s           ConversationSetting
			rank, muted sql.NullInt64
		)
		if err := rows.Scan(&s.UserID, &s.ConvType, &s.ConvID, &s.IsArchived, &rank, &muted); err != nil {
			return nil, err
		}
		s.PinnedRank, s.MutedUntil = intPtr(rank), intPtr(muted)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetArchived upserts the archive flag.
func (q *Queries) SetArchived(ctx context.Context, userID int64, convType string, convID int64, archived bool, at int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO conversation_settings (user_id, conv_type, conv_id, is_archived, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, conv_type, conv_id) DO UPDATE SET
			is_archived = excluded.is_archived,
			updated_at = excluded.updated_at`,
		userID, convType, convID, archived, at)
	return err
}

// SetPinned upserts the pin rank. A nil rank unpins.
func (q *Queries) SetPinned(ctx context.Context, userID int64, convType string, convID int64, rank *int64, at int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO conversation_settings (user_id, conv_type, conv_id, pinned_rank, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, conv_type, conv_id) DO UPDATE SET
			pinned_rank = excluded.pinned_rank,
			updated_at = excluded.updated_at`,
		userID, convType, convID, nullInt(rank), at)
	return err
}

// SetMuted upserts muted_until. A nil value unmutes.
func (q *Queries) SetMuted(ctx context.Context, userID int64, convType string, convID int64, until *int64, at int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO conversation_settings (user_id, conv_type, conv_id, muted_until, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, conv_type, conv_id) DO UPDATE SET
			muted_until = excluded.muted_until,
			updated_at = excluded.updated_at`,
		userID, convType, convID, nullInt(until), at)
	return err
}

// MutedUntil returns the mute deadline of a conversation, or 0 if none.
func (q *Queries) MutedUntil(ctx context.Context, userID int64, convType string, convID int64) (int64, error) {
	var until sql.NullInt64
	err := q.q.QueryRowContext(ctx, `
		SELECT muted_until FROM conversation_settings WHERE user_id = ? AND conv_type = ? AND conv_id = ?`,
		userID, convType, convID).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return until.Int64, err
}
