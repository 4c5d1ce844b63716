package groups

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/store"
)

// CreateInviteLink issues a shareable token for a group. Owners and admins
// may create links. expiresAt (unix ms) and maxUses are optional.
func (s *Service) CreateInviteLink(ctx context.Context, actorID, groupID int64, expiresAt, maxUses *int64) (*store.InviteLink, error) {
	if maxUses != nil && *maxUses <= 0 {
		return nil, apperr.Invalid("create_invite_link", "max uses must be positive")
	}
	var link store.InviteLink
	err := s.engine.Run(ctx, "create_invite_link", func(tx *store.Tx, b *lifecycle.Batch) error {
		if _, err := loadGroup(ctx, tx, "create_invite_link", groupID); err != nil {
			return err
		}
		m, err := tx.GetMember(ctx, groupID, actorID)
		if err != nil {
			return err
		}
		if m == nil || m.Status != store.MemberAccepted || (m.Role != store.RoleOwner && m.Role != store.RoleAdmin) {
			return apperr.Forbidden("create_invite_link", "only the owner or an admin may create invite links")
		}
		now := s.nowMs()
		if expiresAt != nil && *expiresAt <= now {
			return apperr.Invalid("create_invite_link", "expiry must be in the future")
		}
		link = store.InviteLink{
			Token:     uuid.NewString(),
			GroupID:   groupID,
			CreatedBy: actorID,
			ExpiresAt: expiresAt,
			MaxUses:   maxUses,
			CreatedAt: now,
		}
		return tx.CreateInviteLink(ctx, &link)
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// ConsumeInviteLink admits userID to the link's group. An accepted member
// consuming again is a no-op that does not count as a use.
func (s *Service) ConsumeInviteLink(ctx context.Context, userID int64, token string) (*store.Group, error) {
	var g *store.Group
	err := s.engine.Run(ctx, "consume_invite_link", func(tx *store.Tx, b *lifecycle.Batch) error {
		link, err := tx.GetInviteLink(ctx, token)
		if err != nil {
			return err
		}
		if link == nil {
			return apperr.Missing("consume_invite_link", "invite link not found")
		}
		now := s.nowMs()
		if link.ExpiresAt != nil && *link.ExpiresAt <= now {
			return apperr.Invalid("consume_invite_link", "invite link expired")
		}
		if g, err = loadGroup(ctx, tx, "consume_invite_link", link.GroupID); err != nil {
			return err
		}
		m, err := tx.GetMember(ctx, link.GroupID, userID)
		if err != nil {
			return err
		}
		if m != nil && m.Status == store.MemberAccepted {
			return nil
		}
		u, err := loadUser(ctx, tx, "consume_invite_link", userID)
		if err != nil {
			return err
		}
		ok, err := tx.RecordInviteUse(ctx, link.ID, userID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflicting("consume_invite_link", "invite link has no uses left")
		}
		role := store.RoleMember
		if m != nil {
			role = m.Role
		}
		if err := tx.AddMember(ctx, &store.Member{
			GroupID: link.GroupID, UserID: userID, Status: store.MemberAccepted, Role: role,
			InvitedBy: &link.CreatedBy, InvitedAt: now, RespondedAt: &now,
		}); err != nil {
			return err
		}
		if _, err := s.engine.SystemTx(ctx, tx, b, link.GroupID, userID, u.DisplayName+" joined the group"); err != nil {
			return err
		}
		b.Publish(bus.KindGroupMember, MemberChange{GroupID: link.GroupID, UserID: userID, Status: store.MemberAccepted})
		b.After(func() { s.joinRoom(userID, link.GroupID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("invite link consumed", zap.Int64("group_id", g.ID), zap.Int64("user_id", userID))
	return g, nil
}
