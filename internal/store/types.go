package store

// Conversation kinds used by overlays (visibility, settings).
const (
	KindDirect = "dm"
	KindGroup  = "group"
)

// Message types.
const (
	TypeText    = "text"
	TypeImage   = "image"
	TypeAudio   = "audio"
	TypeFile    = "file"
	TypeSystem  = "system"
	TypeDeleted = "deleted"
)

// Group message kinds.
const (
	KindUser   = "user"
	KindSystem = "system"
)

// Membership statuses and roles.
const (
	MemberPending  = "pending"
	MemberAccepted = "accepted"
	MemberDeclined = "declined"

	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is a registered account.
type User struct {
	ID           int64
	DisplayName  string
	Phone        string
	PasswordHash string
	ProfileImage *string
	CreatedAt    int64
	LastSeenAt   *int64
}

// Message is a direct message between two users.
type Message struct {
	ID            int64
	SenderID      int64
	ReceiverID    int64
	SenderName    string
	Content       string
	Type          string
	MediaURL      *string
	MediaMime     *string
	CreatedAt     int64
	IsRead        bool
	DeliveredAt   *int64
	ReadAt        *int64
	EditedAt      *int64
	DeletedForAll bool
	ReplyToID     *int64
	Forwarded     bool
}

// GroupMessage is a message posted to a group.
type GroupMessage struct {
	ID            int64
	GroupID       int64
	SenderID      int64
	SenderName    string
	Content       string
	Type          string
	Kind          string
	MediaURL      *string
	MediaMime     *string
	CreatedAt     int64
	EditedAt      *int64
	DeletedForAll bool
	ReplyToID     *int64
	Forwarded     bool
}

// Group is a named set of members.
type Group struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt int64
}

// Member is one user's membership in a group.
type Member struct {
	GroupID     int64
	UserID      int64
	Status      string
	Role        string
	InvitedBy   *int64
	InvitedAt   int64
	RespondedAt *int64
	LastReadAt  *int64
}

// Invite is a pending membership joined with its group.
type Invite struct {
	Group     Group
	InvitedBy *int64
	InvitedAt int64
}

// ConversationSetting is a user's overlay on one conversation.
type ConversationSetting struct {
	UserID     int64
	ConvType   string
	ConvID     int64
	IsArchived bool
	PinnedRank *int64
	MutedUntil *int64
}

// PushSubscription is a Web Push endpoint registered by a user.
type PushSubscription struct {
	ID        int64
	UserID    int64
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
	IsActive  bool
}

// InviteLink is a shareable token that admits users to a group.
type InviteLink struct {
	ID        int64
	Token     string
	GroupID   int64
	CreatedBy int64
	ExpiresAt *int64
	MaxUses   *int64
	Uses      int64
	CreatedAt int64
}

// Stamped is a message whose delivered_at or read_at was just set.
type Stamped struct {
	MessageID int64
	SenderID  int64
	GroupID   int64
}

// Page selects a window of history. Zero values select the newest messages.
type Page struct {
	BeforeID int64
	AfterID  int64
	Limit    int
}
