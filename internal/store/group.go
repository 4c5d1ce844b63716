package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateGroup stores a group and sets g.ID.
func (q *Queries) CreateGroup(ctx context.Context, g *Group) error {
	res, err := q.q.ExecContext(ctx, `INSERT INTO chat_groups (name, owner_id, created_at) VALUES (?, ?, ?)`,
		g.Name, g.OwnerID, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	return err
}

// GetGroup returns a group by id, or nil if not found.
func (q *Queries) GetGroup(ctx context.Context, id int64) (*Group, error) {
	var g Group
	err := q.q.QueryRowContext(ctx, `SELECT id, name, owner_id, created_at FROM chat_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupNameTaken reports whether owner already has a group with name,
// compared case-insensitively. exceptID skips one group (for renames).
func (q *Queries) GroupNameTaken(ctx context.Context, ownerID int64, name string, exceptID int64) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_groups WHERE owner_id = ? AND name = ? COLLATE NOCASE AND id != ?`,
		ownerID, name, exceptID).Scan(&n)
	return n > 0, err
}

// RenameGroup changes a group's name.
func (q *Queries) RenameGroup(ctx context.Context, id int64, name string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE chat_groups SET name = ? WHERE id = ?`, name, id)
	return err
}

// DeleteGroup removes a group and, through cascades, everything scoped to it.
func (q *Queries) DeleteGroup(ctx context.Context, id int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM chat_groups WHERE id = ?`, id)
	return err
}

// AddMember inserts or refreshes a membership row.
func (q *Queries) AddMember(ctx context.Context, m *Member) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, status, role, invited_by, invited_at, responded_at, last_read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, user_id) DO UPDATE SET
			status = excluded.status,
			invited_by = excluded.invited_by,
			invited_at = excluded.invited_at,
			responded_at = excluded.responded_at`,
		m.GroupID, m.UserID, m.Status, m.Role, nullInt(m.InvitedBy), m.InvitedAt, nullInt(m.RespondedAt), nullInt(m.LastReadAt))
	return err
}

// GetMember returns a membership row, or nil if the user was never invited.
func (q *Queries) GetMember(ctx context.Context, groupID, userID int64) (*Member, error) {
	var (
		m                         Member
		by, responded, lastReadAt sql.NullInt64
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT group_id, user_id, status, role, invited_by, invited_at, responded_at, last_read_at
		FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).
		Scan(&m.GroupID, &m.UserID, &m.Status, &m.Role, &by, &m.InvitedAt, &responded, &lastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.InvitedBy, m.RespondedAt, m.LastReadAt = intPtr(by), intPtr(responded), intPtr(lastReadAt)
	return &m, nil
}

// IsAccepted reports whether user is an accepted member of group.
func (q *Queries) IsAccepted(ctx context.Context, groupID, userID int64) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ? AND status = 'accepted'`,
		groupID, userID).Scan(&n)
	return n > 0, err
}

// SetMemberStatus records a response to an invitation.
func (q *Queries) SetMemberStatus(ctx context.Context, groupID, userID int64, status string, at int64) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE group_members SET status = ?, responded_at = ? WHERE group_id = ? AND user_id = ?`,
		status, at, groupID, userID)
	return err
}

// SetMemberRole changes a member's role.
func (q *Queries) SetMemberRole(ctx context.Context, groupID, userID int64, role string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`, role, groupID, userID)
	return err
}

// RemoveMember deletes a membership, the member's block toggle and their
// receipts for the group's messages.
func (q *Queries) RemoveMember(ctx context.Context, groupID, userID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM group_blocks WHERE group_id = ? AND user_id = ?`, groupID, userID); err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx, `
		DELETE FROM group_message_receipts
		WHERE user_id = ? AND message_id IN (SELECT id FROM group_messages WHERE group_id = ?)`,
		userID, groupID); err != nil {
		return err
	}
	_, err := q.q.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	return err
}

// SetLastRead moves a member's read marker. messageID is the newest message
// read; messages with a greater id are unread regardless of timestamps.
func (q *Queries) SetLastRead(ctx context.Context, groupID, userID, at, messageID int64) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE group_members SET last_read_at = ?, last_read_id = MAX(COALESCE(last_read_id, 0), ?)
		WHERE group_id = ? AND user_id = ?`, at, messageID, groupID, userID)
	return err
}

// AcceptedGroups returns the groups user has accepted, oldest first.
func (q *Queries) AcceptedGroups(ctx context.Context, userID int64) ([]Group, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT g.id, g.name, g.owner_id, g.created_at
		FROM chat_groups g JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ? AND gm.status = 'accepted'
		ORDER BY g.id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AcceptedMemberIDs returns the accepted members of group.
func (q *Queries) AcceptedMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_id FROM group_members WHERE group_id = ? AND status = 'accepted' ORDER BY user_id`, groupID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// PendingInvites returns the open invitations of user, newest first.
func (q *Queries) PendingInvites(ctx context.Context, userID int64) ([]Invite, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT g.id, g.name, g.owner_id, g.created_at, gm.invited_by, gm.invited_at
		FROM group_members gm JOIN chat_groups g ON g.id = gm.group_id
		WHERE gm.user_id = ? AND gm.status = 'pending'
		ORDER BY gm.invited_at DESC, g.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var invites []Invite
	for rows.Next() {
		var (
			inv Invite
			by  sql.NullInt64
		)
		if err := rows.Scan(&inv.Group.ID, &inv.Group.Name, &inv.Group.OwnerID, &inv.Group.CreatedAt, &by, &inv.InvitedAt); err != nil {
			return nil, err
		}
		inv.InvitedBy = intPtr(by)
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// CountPendingInvites counts the open invitations of user.
func (q *Queries) CountPendingInvites(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_members WHERE user_id = ? AND status = 'pending'`, userID).Scan(&n)
	return n, err
}

// ToggleBlock flips the block overlay and returns the new state.
func (q *Queries) ToggleBlock(ctx context.Context, groupID, userID, at int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM group_blocks WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := q.q.ExecContext(ctx, `INSERT INTO group_blocks (group_id, user_id, created_at) VALUES (?, ?, ?)`, groupID, userID, at); err != nil {
		return false, err
	}
	return true, nil
}

// BlockedGroupIDs returns the groups user has hidden.
func (q *Queries) BlockedGroupIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT group_id FROM group_blocks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
