package api

import (
	"encoding/json"

	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/push"
	"github.com/yanivian/connect-app-sub000/internal/state"
)

type Empty struct{}

type GetStateRequest struct{}

type GetStateResponse struct {
	UserID     string       `json:"userId"`
	AppState   string       `json:"appState"`
	QueueDepth int64        `json:"queueDepth"`
	State      state.State  `json:"state"`
	Gists      []model.Gist `json:"gists,omitempty"`
}

type AppStateResponse struct {
	State string `json:"state"`
}

type SetAppStateRequest struct {
	State string `json:"state"`
}

type DeliverPushRequest struct {
	Message push.RemoteMessage `json:"message"`
}

type DeliverPushResponse struct {
	// Queued is true when the message was held for replay.
	Queued bool `json:"queued"`
}

type AddConnectionRequest struct {
	UserID string `json:"userId"`
}

type AddConnectionResponse struct {
	User        model.User `json:"user"`
	IsConnected bool       `json:"isConnected"`
}

type CreateInviteRequest struct {
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
	Label       string `json:"label,omitempty"`
}

type InviteResponse struct {
	Invite model.Invite `json:"invite"`
}

type DeleteInviteRequest struct {
	InviteID string `json:"inviteId"`
}

type ConnectionsResponse struct {
	Connections model.Connections `json:"connections"`
}

type RefreshChatRequest struct {
	ChatID string `json:"chatId"`
}

type ChatResponse struct {
	Chat model.Chat `json:"chat"`
}

type SyncContactsResponse struct {
	Synced   bool                   `json:"synced"`
	Contacts model.ContactsSnapshot `json:"contacts"`
}

type SendMessageRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type SendMessageResponse struct {
	ClientMessageID string `json:"clientMessageId"`
}

type SetDraftRequest struct {
	ChatID string `json:"chatId"`
	// Draft is the unsent text; empty clears it.
	Draft string `json:"draft"`
}

type ProfileResponse struct {
	Profile model.Profile `json:"profile"`
	// Found is false before the first successful sign-in.
	Found bool `json:"found"`
}

type UpdateProfileRequest struct {
	Name         string `json:"name,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	// Photo, when set, is uploaded and becomes the profile photo.
	Photo         []byte `json:"photo,omitempty"`
	PhotoFilename string `json:"photoFilename,omitempty"`
}

type WatchStateRequest struct {
	// Prefixes filters event kinds. Empty watches state and app events.
	Prefixes []string `json:"prefixes,omitempty"`
}

// Event is one bus event as streamed by WatchState.
type Event struct {
	EventID          string          `json:"eventId"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
