package bus

import "time"

// Event kinds. Subscribers filter on the namespace before the dot.
const (
	KindPresenceOnline  = "presence.online"
	KindPresenceOffline = "presence.offline"

	KindMessageSent    = "message.sent"
	KindMessageStatus  = "message.status"
	KindMessageEdited  = "message.edited"
	KindMessageDeleted = "message.deleted"

	KindGroupCreated = "group.created"
	KindGroupMember  = "group.member"
	KindGroupUpdated = "group.updated"

	KindPushSent   = "push.sent"
	KindPushFailed = "push.failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
