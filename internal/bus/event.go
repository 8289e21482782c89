package bus

import "time"

// Event kinds. Subscribers filter by prefix ("state.", "app.", "push.", "outbox.", "device.").
const (
	KindConnectionsChanged = "state.connections_changed"
	KindChatsChanged       = "state.chats_changed"
	KindContactsChanged    = "state.contacts_changed"
	KindProfileChanged     = "state.profile_changed"

	KindAppStateChanged = "app.state_changed"

	KindPushQueued   = "push.queued"
	KindPushApplied  = "push.applied"
	KindPushReplayed = "push.replayed"

	KindOutboxSent   = "outbox.sent"
	KindOutboxFailed = "outbox.failed"

	KindDeviceContactsChanged = "device.contacts_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
