package model

import "github.com/yanivian/connect-app-sub000/internal/listutil"

// Identity predicates.

func SameUser(a, b User) bool { return a.UserID == b.UserID }

func SameInvite(a, b Invite) bool { return a.InviteID == b.InviteID }

func SameMessage(a, b Message) bool { return a.MessageID == b.MessageID }

func SameChat(a, b Chat) bool { return a.Gist.ChatID == b.Gist.ChatID }

func SameContact(a, b ContactEntry) bool {
	return a.Name == b.Name && a.PhoneNumber == b.PhoneNumber
}

// LatestMessageID returns the gist's latest message ID, or 0 when unknown.
func (g Gist) LatestMessageID() int64 {
	if g.LatestMessage == nil {
		return 0
	}
	return g.LatestMessage.MessageID
}

// CompareGists orders gists by latest message, then by last seen message.
var CompareGists = listutil.CompareBy(
	listutil.By(func(g Gist) int64 { return g.LatestMessageID() }, listutil.Asc),
	listutil.By(func(g Gist) int64 { return g.LastSeenMessageID }, listutil.Asc),
)

// CompareMessages orders messages by ID, tie-broken by creation time.
var CompareMessages = listutil.CompareBy(
	listutil.By(func(m Message) int64 { return m.MessageID }, listutil.Asc),
	listutil.By(func(m Message) int64 { return m.CreatedTimestampMillis }, listutil.Asc),
)

// CompareInvites orders invites alphabetically by name, label, phone.
var CompareInvites = listutil.CompareBy(
	listutil.By(func(i Invite) string { return i.Name }, listutil.Asc),
	listutil.By(func(i Invite) string { return i.Label }, listutil.Asc),
	listutil.By(func(i Invite) string { return i.PhoneNumber }, listutil.Asc),
)

// CompareContacts orders address-book entries the same way as invites.
var CompareContacts = listutil.CompareBy(
	listutil.By(func(c ContactEntry) string { return c.Name }, listutil.Asc),
	listutil.By(func(c ContactEntry) string { return c.Label }, listutil.Asc),
	listutil.By(func(c ContactEntry) string { return c.PhoneNumber }, listutil.Asc),
)
