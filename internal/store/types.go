package store

// QueuedMessage is a push payload waiting in the replay queue.
type QueuedMessage struct {
	Seq        int64
	UserID     string
	MessageID  string
	Payload    []byte
	ReceivedAt int64
}

// OutboxEntry represents a pending outgoing chat message.
type OutboxEntry struct {
	ID              int64
	ClientMsgID     string
	ChatID          string
	Body            string
	Status          string // queued, sending, sent, failed
	ErrorMessage    string
	ServerMessageID int64
}
