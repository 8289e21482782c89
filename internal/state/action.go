package state

import "github.com/yanivian/connect-app-sub000/internal/model"

// Action is a state transition. The concrete types below are the only
// implementations.
type Action interface {
	name() string
}

type (
	// IncorporateChatAction replaces or appends a refreshed chat.
	IncorporateChatAction struct{ Chat model.Chat }
	// ReceiveMessageAction merges one live or replayed message.
	ReceiveMessageAction struct {
		Gist    model.Gist
		Message model.Message
	}
	SetTypingAction struct {
		ChatID  string
		UserIDs []string
	}
	SetDraftAction struct {
		ChatID string
		Draft  string
	}
	AddConnectionAction struct {
		User        model.User
		IsConnected bool
	}
	ReceiveRequestAction struct{ User model.User }
	AddInviteAction      struct{ Invite model.Invite }
	DeleteInviteAction   struct{ InviteID string }
	// ReplaceConnectionsAction installs a freshly fetched snapshot.
	ReplaceConnectionsAction struct{ Connections model.Connections }
	RefreshContactsAction    struct{ Snapshot model.ContactsSnapshot }
)

func (IncorporateChatAction) name() string    { return "incorporate_chat" }
func (ReceiveMessageAction) name() string     { return "receive_message" }
func (SetTypingAction) name() string          { return "set_typing" }
func (SetDraftAction) name() string           { return "set_draft" }
func (AddConnectionAction) name() string      { return "add_connection" }
func (ReceiveRequestAction) name() string     { return "receive_request" }
func (AddInviteAction) name() string          { return "add_invite" }
func (DeleteInviteAction) name() string       { return "delete_invite" }
func (ReplaceConnectionsAction) name() string { return "replace_connections" }
func (RefreshContactsAction) name() string    { return "refresh_contacts" }

// Slice identifies the part of State an action touches.
type Slice string

const (
	SliceConnections Slice = "connections"
	SliceChats       Slice = "chats"
	SliceContacts    Slice = "contacts"
)

// Reduce applies a to s and returns the new state.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case IncorporateChatAction:
		s.Chats = IncorporateChat(s.Chats, a.Chat)
	case ReceiveMessageAction:
		s.Chats = ReceiveMessage(s.Chats, a.Gist, a.Message)
	case SetTypingAction:
		s.Chats = SetTyping(s.Chats, a.ChatID, a.UserIDs)
	case SetDraftAction:
		s.Chats = SetDraft(s.Chats, a.ChatID, a.Draft)
	case AddConnectionAction:
		s.Connections = AddConnection(s.Connections, a.User, a.IsConnected)
	case ReceiveRequestAction:
		s.Connections = ReceiveRequest(s.Connections, a.User)
	case AddInviteAction:
		s.Connections = AddInvite(s.Connections, a.Invite)
	case DeleteInviteAction:
		s.Connections = DeleteInvite(s.Connections, a.InviteID)
	case ReplaceConnectionsAction:
		s.Connections = a.Connections
	case RefreshContactsAction:
		s.Contacts = RefreshContacts(a.Snapshot)
	}
	return s
}

// SliceOf returns the slice of State that a touches.
func SliceOf(a Action) Slice {
	switch a.(type) {
	case AddConnectionAction, ReceiveRequestAction, AddInviteAction, DeleteInviteAction, ReplaceConnectionsAction:
		return SliceConnections
	case RefreshContactsAction:
		return SliceContacts
	default:
		return SliceChats
	}
}

// ChatKey is the fencing key for fetches of a single chat.
func ChatKey(chatID string) string { return "chat:" + chatID }

// fenceKeys lists the generation keys a locally originated action
// invalidates, so an older in-flight fetch cannot overwrite it.
func fenceKeys(a Action) []string {
	switch a := a.(type) {
	case AddConnectionAction, ReceiveRequestAction, AddInviteAction, DeleteInviteAction:
		return []string{string(SliceConnections)}
	case ReceiveMessageAction:
		chatID := a.Gist.ChatID
		if chatID == "" {
			chatID = a.Message.ChatID
		}
		return []string{ChatKey(chatID)}
	}
	return nil
}
