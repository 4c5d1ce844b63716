// Package status holds the delivery state machine of a single message.
package status

import (
	"fmt"
	"slices"
)

// State is a message's delivery state for one recipient.
type State string

const (
	Created   State = "CREATED"
	Sent      State = "SENT"
	Delivered State = "DELIVERED"
	Read      State = "READ"
)

// validTransitions defines allowed state transitions. Sent may jump straight
// to Read; delivered_at is then filled in the same write.
var validTransitions = map[State][]State{
	Created:   {Sent},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
}

// Check returns an error if from -> to is not allowed.
func Check(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown state %s", from)
	}
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// Of derives the state of a persisted message from its timestamps.
func Of(deliveredAt, readAt *int64) State {
	switch {
	case readAt != nil:
		return Read
	case deliveredAt != nil:
		return Delivered
	default:
		return Sent
	}
}

// Wire returns the lowercase status string used on the wire.
func (s State) Wire() string {
	switch s {
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	case Created:
		return "created"
	default:
		return "sent"
	}
}

// Change is the bus payload for message status changes.
type Change struct {
	Group      bool
	To         State
	SenderID   int64
	ViewerID   int64
	MessageIDs []int64
	At         int64
}
