// Package state holds the client's reconciled view of connections, chats and
// device contacts. Reducers are pure: they never modify the slices they are
// given, so snapshots handed out by Store can be read without copying.
package state

import (
	"slices"

	"github.com/yanivian/connect-app-sub000/internal/listutil"
	"github.com/yanivian/connect-app-sub000/internal/model"
)

// State is the full in-memory application state.
type State struct {
	Connections model.Connections      `json:"Connections"`
	Chats       []model.Chat           `json:"Chats,omitempty"`
	Contacts    model.ContactsSnapshot `json:"Contacts"`
}

// IncorporateChat replaces the held chat with the same ID, or appends it.
func IncorporateChat(chats []model.Chat, update model.Chat) []model.Chat {
	update.Messages = normalizeMessages(update.Gist.ChatID, update.Messages)
	return listutil.Upsert(update, chats, model.SameChat)
}

// ReceiveMessage merges a single message into its chat, creating the chat
// when it is not held yet. The gist's latest message only moves forward.
// Applying the same message twice is a no-op.
func ReceiveMessage(chats []model.Chat, gist model.Gist, msg model.Message) []model.Chat {
	chatID := gist.ChatID
	if chatID == "" {
		chatID = msg.ChatID
	}
	msg.ChatID = chatID

	chat, ok := FindChat(chats, chatID)
	if !ok {
		chat = model.Chat{Gist: model.Gist{ChatID: chatID}}
	}

	g := chat.Gist
	if len(gist.Participants) > 0 {
		g.Participants = gist.Participants
	}
	g.LastSeenMessageID = max(g.LastSeenMessageID, gist.LastSeenMessageID)
	g.LatestMessage = latest(g.LatestMessage, gist.LatestMessage, &msg)
	// The sender stopped typing once the message landed.
	if msg.SenderID != "" && slices.Contains(g.TypingUserIDs, msg.SenderID) {
		g.TypingUserIDs = slices.DeleteFunc(slices.Clone(g.TypingUserIDs), func(id string) bool { return id == msg.SenderID })
	}

	chat.Gist = g
	chat.Messages = normalizeMessages(chatID, listutil.Upsert(msg, chat.Messages, model.SameMessage))
	return listutil.Upsert(chat, chats, model.SameChat)
}

// SetTyping replaces the typing list of a held chat. Unknown chats are ignored.
func SetTyping(chats []model.Chat, chatID string, userIDs []string) []model.Chat {
	chat, ok := FindChat(chats, chatID)
	if !ok {
		return chats
	}
	chat.Gist.TypingUserIDs = slices.Clone(userIDs)
	return listutil.Upsert(chat, chats, model.SameChat)
}

// SetDraft stores unsent text for a held chat.
func SetDraft(chats []model.Chat, chatID, draft string) []model.Chat {
	chat, ok := FindChat(chats, chatID)
	if !ok {
		return chats
	}
	chat.Gist.Draft = draft
	return listutil.Upsert(chat, chats, model.SameChat)
}

// AddConnection records a successful add. A bilateral add resolves a
// pending incoming request into a connection; a unilateral add records an
// outgoing request.
func AddConnection(c model.Connections, user model.User, isConnected bool) model.Connections {
	if isConnected {
		c.Incoming = listutil.Remove(user, c.Incoming, model.SameUser)
		c.Outgoing = listutil.Remove(user, c.Outgoing, model.SameUser)
		c.Connections = listutil.Upsert(user, c.Connections, model.SameUser)
		return c
	}
	c.Outgoing = listutil.Upsert(user, c.Outgoing, model.SameUser)
	return c
}

// ReceiveRequest records a request from user to connect. Users who are
// already connected are left alone.
func ReceiveRequest(c model.Connections, user model.User) model.Connections {
	if listutil.Contains(user, c.Connections, model.SameUser) {
		return c
	}
	c.Incoming = listutil.Upsert(user, c.Incoming, model.SameUser)
	return c
}

// AddInvite upserts an invite by ID.
func AddInvite(c model.Connections, invite model.Invite) model.Connections {
	c.Invites = listutil.Upsert(invite, c.Invites, model.SameInvite)
	return c
}

// DeleteInvite removes an invite by ID.
func DeleteInvite(c model.Connections, inviteID string) model.Connections {
	c.Invites = listutil.Remove(model.Invite{InviteID: inviteID}, c.Invites, model.SameInvite)
	return c
}

// RefreshContacts replaces the contacts snapshot wholesale. Fields missing
// from snapshot fall back to their zero value, never to the old snapshot.
func RefreshContacts(snapshot model.ContactsSnapshot) model.ContactsSnapshot {
	next := model.ContactsSnapshot{}
	next.Users = slices.Clone(snapshot.Users)
	next.SyncedAtMillis = snapshot.SyncedAtMillis
	return next
}

// IsStale reports whether the chat's gist points past the locally held
// messages, in which case the message list must be refetched.
func IsStale(chat model.Chat) bool {
	return chat.Gist.LatestMessageID() > int64(len(chat.Messages))
}

// FindChat returns the held chat with the given ID.
func FindChat(chats []model.Chat, chatID string) (model.Chat, bool) {
	found := listutil.Find(model.Chat{Gist: model.Gist{ChatID: chatID}}, chats, model.SameChat)
	if len(found) == 0 {
		return model.Chat{}, false
	}
	return found[0], true
}

// SortedGists returns the gists of chats in display order.
func SortedGists(chats []model.Chat) []model.Gist {
	gists := make([]model.Gist, 0, len(chats))
	for _, c := range chats {
		gists = append(gists, c.Gist)
	}
	slices.SortStableFunc(gists, model.CompareGists)
	return gists
}

// normalizeMessages returns msgs deduplicated by ID (later entries win)
// and sorted, with every message tagged with chatID.
func normalizeMessages(chatID string, msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	index := make(map[int64]int, len(msgs))
	for _, m := range msgs {
		if chatID != "" {
			m.ChatID = chatID
		}
		if i, ok := index[m.MessageID]; ok {
			out[i] = m
			continue
		}
		index[m.MessageID] = len(out)
		out = append(out, m)
	}
	slices.SortStableFunc(out, model.CompareMessages)
	return out
}

func latest(candidates ...*model.Message) *model.Message {
	var best *model.Message
	for _, m := range candidates {
		if m == nil {
			continue
		}
		if best == nil || m.MessageID > best.MessageID {
			c := *m
			best = &c
		}
	}
	return best
}
