// Package groups manages group membership: creation, invitations, leaving,
// blocking, roles and shareable invite links. Every change runs through the
// lifecycle engine so that system messages and room membership follow the
// committed state.
package groups

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/store"
)

// MaxNameLength bounds group names, in characters.
const MaxNameLength = 80

// Rooms moves all sessions of a user in or out of a room.
// *room.Router implements it.
type Rooms interface {
	JoinUser(userID int64, room string) int
	LeaveUser(userID int64, room string) int
}

// MemberChange is the bus payload for membership transitions.
type MemberChange struct {
	GroupID int64
	UserID  int64
	Status  string
}

// Service implements the membership operations.
type Service struct {
	db     *store.DB
	engine *lifecycle.Engine
	rooms  Rooms
	logger *zap.Logger
}

// NewService creates a membership service.
func NewService(db *store.DB, engine *lifecycle.Engine, rooms Rooms, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, engine: engine, rooms: rooms, logger: logger}
}

func (s *Service) nowMs() int64 { return s.engine.Now().UnixMilli() }

func (s *Service) joinRoom(userID, groupID int64) {
	if s.rooms != nil {
		s.rooms.JoinUser(userID, room.GroupRoom(groupID))
	}
}

func (s *Service) leaveRoom(userID, groupID int64) {
	if s.rooms != nil {
		s.rooms.LeaveUser(userID, room.GroupRoom(groupID))
	}
}

// NormalizeName collapses runs of whitespace and trims the result.
func NormalizeName(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func checkName(op, raw string) (string, error) {
	name := NormalizeName(raw)
	if name == "" {
		return "", apperr.Invalid(op, "group name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperr.Invalid(op, "group name exceeds %d characters", MaxNameLength)
	}
	return name, nil
}

// loadGroup returns the group or a NotFound error.
func loadGroup(ctx context.Context, tx *store.Tx, op string, groupID int64) (*store.Group, error) {
	g, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, apperr.Missing(op, "group %d not found", groupID)
	}
	return g, nil
}

func loadUser(ctx context.Context, tx *store.Tx, op string, userID int64) (*store.User, error) {
	u, err := tx.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.Missing(op, "user %d not found", userID)
	}
	return u, nil
}

// Create makes ownerID the owner of a new group and invites members. At
// least one member other than the owner is required.
func (s *Service) Create(ctx context.Context, ownerID int64, rawName string, memberIDs []int64) (*store.Group, error) {
	name, err := checkName("create_group", rawName)
	if err != nil {
		return nil, err
	}
	var invitees []int64
	seen := map[int64]bool{ownerID: true}
	for _, id := range memberIDs {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		invitees = append(invitees, id)
	}
	if len(invitees) == 0 {
		return nil, apperr.Invalid("create_group", "choose at least one member")
	}

	var g store.Group
	err = s.engine.Run(ctx, "create_group", func(tx *store.Tx, b *lifecycle.Batch) error {
		if _, err := loadUser(ctx, tx, "create_group", ownerID); err != nil {
			return err
		}
		for _, id := range invitees {
			if _, err := loadUser(ctx, tx, "create_group", id); err != nil {
				return err
			}
		}
		taken, err := tx.GroupNameTaken(ctx, ownerID, name, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflicting("create_group", "you already have a group named %q", name)
		}

		now := s.nowMs()
		g = store.Group{Name: name, OwnerID: ownerID, CreatedAt: now}
		if err := tx.CreateGroup(ctx, &g); err != nil {
			return err
		}
		if err := tx.AddMember(ctx, &store.Member{
			GroupID: g.ID, UserID: ownerID, Status: store.MemberAccepted, Role: store.RoleOwner,
			InvitedBy: &ownerID, InvitedAt: now, RespondedAt: &now, LastReadAt: &now,
		}); err != nil {
			return err
		}
		for _, id := range invitees {
			if err := tx.AddMember(ctx, &store.Member{
				GroupID: g.ID, UserID: id, Status: store.MemberPending, Role: store.RoleMember,
				InvitedBy: &ownerID, InvitedAt: now,
			}); err != nil {
				return err
			}
			text := fmt.Sprintf("You were invited to join the group %s. Open group requests to accept or decline.", name)
			if _, err := s.engine.DirectSystemTx(ctx, tx, b, ownerID, id, text); err != nil {
				return err
			}
			b.Emit(room.UserRoom(id), event.RefreshUnread{Type: event.Group, GroupID: event.Int64(g.ID)})
		}
		b.Publish(bus.KindGroupCreated, g)
		b.After(func() { s.joinRoom(ownerID, g.ID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("group created", zap.Int64("group_id", g.ID), zap.Int64("owner_id", ownerID), zap.Int("invited", len(invitees)))
	return &g, nil
}

// Invites lists the pending invitations of userID, newest first.
func (s *Service) Invites(ctx context.Context, userID int64) ([]store.Invite, error) {
	inv, err := s.db.PendingInvites(ctx, userID)
	if err != nil {
		return nil, apperr.Store("invites", err)
	}
	return inv, nil
}

// AcceptedGroups lists the groups userID belongs to.
func (s *Service) AcceptedGroups(ctx context.Context, userID int64) ([]store.Group, error) {
	groups, err := s.db.AcceptedGroups(ctx, userID)
	if err != nil {
		return nil, apperr.Store("accepted_groups", err)
	}
	return groups, nil
}

// Respond accepts or declines a pending invitation. It returns the new
// membership status.
func (s *Service) Respond(ctx context.Context, userID, groupID int64, accept bool) (string, error) {
	status := store.MemberDeclined
	if accept {
		status = store.MemberAccepted
	}
	err := s.engine.Run(ctx, "respond_invite", func(tx *store.Tx, b *lifecycle.Batch) error {
		m, err := tx.GetMember(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if m == nil || m.Status != store.MemberPending {
			return apperr.Missing("respond_invite", "no pending invitation to group %d", groupID)
		}
		if err := tx.SetMemberStatus(ctx, groupID, userID, status, s.nowMs()); err != nil {
			return err
		}
		b.Emit(room.UserRoom(userID), event.RefreshUnread{Type: event.Group, GroupID: event.Int64(groupID)})
		b.Publish(bus.KindGroupMember, MemberChange{GroupID: groupID, UserID: userID, Status: status})
		if !accept {
			return nil
		}
		u, err := loadUser(ctx, tx, "respond_invite", userID)
		if err != nil {
			return err
		}
		if _, err := s.engine.SystemTx(ctx, tx, b, groupID, userID, u.DisplayName+" joined the group"); err != nil {
			return err
		}
		b.After(func() { s.joinRoom(userID, groupID) })
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Leave removes userID from a group. The owner cannot leave.
func (s *Service) Leave(ctx context.Context, userID, groupID int64) error {
	return s.engine.Run(ctx, "leave_group", func(tx *store.Tx, b *lifecycle.Batch) error {
		g, err := loadGroup(ctx, tx, "leave_group", groupID)
		if err != nil {
			return err
		}
		if g.OwnerID == userID {
			return apperr.Invalid("leave_group", "the owner cannot leave the group")
		}
		ok, err := tx.IsAccepted(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden("leave_group", "not a member of group %d", groupID)
		}
		u, err := loadUser(ctx, tx, "leave_group", userID)
		if err != nil {
			return err
		}
		if err := tx.RemoveMember(ctx, groupID, userID); err != nil {
			return err
		}
		if _, err := s.engine.SystemTx(ctx, tx, b, groupID, userID, u.DisplayName+" left the group"); err != nil {
			return err
		}
		if _, err := s.engine.DirectSystemTx(ctx, tx, b, userID, g.OwnerID, u.DisplayName+" left the group "+g.Name); err != nil {
			return err
		}
		b.Publish(bus.KindGroupMember, MemberChange{GroupID: groupID, UserID: userID, Status: "left"})
		b.After(func() { s.leaveRoom(userID, groupID) })
		return nil
	})
}

// ToggleBlock flips whether userID receives unread counts from a group.
// It returns the new blocked state.
func (s *Service) ToggleBlock(ctx context.Context, userID, groupID int64) (bool, error) {
	var blocked bool
	err := s.engine.Run(ctx, "toggle_block", func(tx *store.Tx, b *lifecycle.Batch) error {
		if _, err := loadGroup(ctx, tx, "toggle_block", groupID); err != nil {
			return err
		}
		ok, err := tx.IsAccepted(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden("toggle_block", "not a member of group %d", groupID)
		}
		if blocked, err = tx.ToggleBlock(ctx, groupID, userID, s.nowMs()); err != nil {
			return err
		}
		b.Emit(room.UserRoom(userID), event.RefreshUnread{Type: event.Group, GroupID: event.Int64(groupID)})
		return nil
	})
	return blocked, err
}

// requireOwner loads the group and checks that actorID owns it.
func requireOwner(ctx context.Context, tx *store.Tx, op string, actorID, groupID int64) (*store.Group, error) {
	g, err := loadGroup(ctx, tx, op, groupID)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != actorID {
		return nil, apperr.Forbidden(op, "only the owner may do this")
	}
	return g, nil
}

// SetRole switches a member between admin and member. Only the owner may
// change roles and the owner's own role never changes.
func (s *Service) SetRole(ctx context.Context, actorID, groupID, targetID int64, role string) error {
	if role != store.RoleAdmin && role != store.RoleMember {
		return apperr.Invalid("set_role", "role must be %s or %s", store.RoleAdmin, store.RoleMember)
	}
	return s.engine.Run(ctx, "set_role", func(tx *store.Tx, b *lifecycle.Batch) error {
		g, err := requireOwner(ctx, tx, "set_role", actorID, groupID)
		if err != nil {
			return err
		}
		if targetID == g.OwnerID {
			return apperr.Invalid("set_role", "the owner's role cannot change")
		}
		m, err := tx.GetMember(ctx, groupID, targetID)
		if err != nil {
			return err
		}
		if m == nil || m.Status != store.MemberAccepted {
			return apperr.Missing("set_role", "user %d is not a member", targetID)
		}
		if err := tx.SetMemberRole(ctx, groupID, targetID, role); err != nil {
			return err
		}
		b.Publish(bus.KindGroupMember, MemberChange{GroupID: groupID, UserID: targetID, Status: role})
		return nil
	})
}

// Rename changes a group's name. Owner only.
func (s *Service) Rename(ctx context.Context, actorID, groupID int64, rawName string) (*store.Group, error) {
	name, err := checkName("rename_group", rawName)
	if err != nil {
		return nil, err
	}
	var g *store.Group
	err = s.engine.Run(ctx, "rename_group", func(tx *store.Tx, b *lifecycle.Batch) error {
		if g, err = requireOwner(ctx, tx, "rename_group", actorID, groupID); err != nil {
			return err
		}
		taken, err := tx.GroupNameTaken(ctx, actorID, name, groupID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflicting("rename_group", "you already have a group named %q", name)
		}
		if err := tx.RenameGroup(ctx, groupID, name); err != nil {
			return err
		}
		g.Name = name
		b.Emit(room.GroupRoom(groupID), event.RefreshUnread{Type: event.Group, GroupID: event.Int64(groupID)})
		b.Publish(bus.KindGroupUpdated, *g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Delete removes a group with its messages and memberships. Owner only.
func (s *Service) Delete(ctx context.Context, actorID, groupID int64) error {
	return s.engine.Run(ctx, "delete_group", func(tx *store.Tx, b *lifecycle.Batch) error {
		g, err := requireOwner(ctx, tx, "delete_group", actorID, groupID)
		if err != nil {
			return err
		}
		members, err := tx.AcceptedMemberIDs(ctx, groupID)
		if err != nil {
			return err
		}
		if err := tx.DeleteGroup(ctx, groupID); err != nil {
			return err
		}
		b.Emit(room.GroupRoom(groupID), event.RefreshUnread{Type: event.Group, GroupID: event.Int64(groupID)})
		b.Publish(bus.KindGroupUpdated, *g)
		b.After(func() {
			for _, uid := range members {
				s.leaveRoom(uid, groupID)
			}
		})
		return nil
	})
}
