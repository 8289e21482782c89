// Package push decodes remote push payloads and applies them to state.
package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yanivian/connect-app-sub000/internal/model"
)

// RemoteMessage is a push notification as delivered to the device.
// Data carries the "kind" discriminator and a JSON "payload".
type RemoteMessage struct {
	MessageID string            `json:"messageId"`
	From      string            `json:"from,omitempty"`
	SentTime  int64             `json:"sentTime,omitempty"`
	Data      map[string]string `json:"data"`
}

// Kind discriminates push payloads.
type Kind string

const (
	KindChatMessage    Kind = "chat_message"
	KindChatTyping     Kind = "chat_typing"
	KindConnection     Kind = "connection"
	KindInviteAccepted Kind = "invite_accepted"
)

var (
	// ErrUnknownKind is returned for payloads with a missing or unknown kind.
	ErrUnknownKind = errors.New("unknown push kind")
	// ErrMalformed is returned when a payload body cannot be decoded.
	ErrMalformed = errors.New("malformed push payload")
)

// IsPermanent reports whether err means the message can never be applied.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownKind) || errors.Is(err, ErrMalformed)
}

// Event is the decoded form of a push payload.
type Event interface {
	Kind() Kind
}

// ChatMessage is a new message in a chat.
type ChatMessage struct {
	Gist    model.Gist    `json:"Gist"`
	Message model.Message `json:"Message"`
}

// ChatTyping replaces the typing indicator of a chat.
type ChatTyping struct {
	ChatID  string   `json:"ChatID"`
	UserIDs []string `json:"UserIDs"`
}

// Connection reports another user's add. IsConnected is true when the add
// completed a mutual connection, false for a new incoming request.
type Connection struct {
	User        model.User `json:"User"`
	IsConnected bool       `json:"IsConnected"`
}

// InviteAccepted reports that an invitee joined and is now connected.
type InviteAccepted struct {
	InviteID string     `json:"InviteID"`
	User     model.User `json:"User"`
}

func (ChatMessage) Kind() Kind    { return KindChatMessage }
func (ChatTyping) Kind() Kind     { return KindChatTyping }
func (Connection) Kind() Kind     { return KindConnection }
func (InviteAccepted) Kind() Kind { return KindInviteAccepted }

// Decode reads the kind discriminator and decodes the matching payload.
func Decode(msg RemoteMessage) (Event, error) {
	kind := Kind(msg.Data["kind"])
	raw := msg.Data["payload"]
	switch kind {
	case KindChatMessage:
		evt, err := decodeAs[ChatMessage](kind, raw)
		if err != nil {
			return nil, err
		}
		if evt.Message.MessageID <= 0 || (evt.Gist.ChatID == "" && evt.Message.ChatID == "") {
			return nil, fmt.Errorf("%w: %s without chat or message id", ErrMalformed, kind)
		}
		return evt, nil
	case KindChatTyping:
		evt, err := decodeAs[ChatTyping](kind, raw)
		if err != nil {
			return nil, err
		}
		if evt.ChatID == "" {
			return nil, fmt.Errorf("%w: %s without chat id", ErrMalformed, kind)
		}
		return evt, nil
	case KindConnection:
		evt, err := decodeAs[Connection](kind, raw)
		if err != nil {
			return nil, err
		}
		if evt.User.UserID == "" {
			return nil, fmt.Errorf("%w: %s without user", ErrMalformed, kind)
		}
		return evt, nil
	case KindInviteAccepted:
		evt, err := decodeAs[InviteAccepted](kind, raw)
		if err != nil {
			return nil, err
		}
		if evt.User.UserID == "" {
			return nil, fmt.Errorf("%w: %s without user", ErrMalformed, kind)
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeAs[T Event](kind Kind, raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return v, nil
}

// Encode builds the RemoteMessage carrying evt.
func Encode(messageID string, evt Event) (RemoteMessage, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return RemoteMessage{}, fmt.Errorf("encode %s: %w", evt.Kind(), err)
	}
	return RemoteMessage{
		MessageID: messageID,
		Data: map[string]string{
			"kind":    string(evt.Kind()),
			"payload": string(body),
		},
	}, nil
}
