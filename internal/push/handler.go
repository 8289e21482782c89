package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/state"
)

// Dispatcher applies state actions. *state.Store satisfies it.
type Dispatcher interface {
	Dispatch(a state.Action) state.State
}

// ChatFetcher refetches a full chat and incorporates it into state.
type ChatFetcher interface {
	RefreshChat(ctx context.Context, chatID string) error
}

// Handler applies push payloads to state. Live and replayed messages take
// the same path.
type Handler struct {
	state   Dispatcher
	fetcher ChatFetcher
	logger  *zap.Logger
}

// NewHandler creates a handler. fetcher may be nil, in which case stale
// chats are left for the next explicit refresh.
func NewHandler(d Dispatcher, fetcher ChatFetcher, logger *zap.Logger) *Handler {
	return &Handler{
		state:   d,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Handle decodes msg and applies it. Decode errors satisfy IsPermanent.
// Applying a message twice leaves state unchanged.
func (h *Handler) Handle(ctx context.Context, msg RemoteMessage) error {
	evt, err := Decode(msg)
	if err != nil {
		return err
	}
	return h.Apply(ctx, evt)
}

// Apply maps a decoded event onto state actions.
func (h *Handler) Apply(ctx context.Context, evt Event) error {
	switch e := evt.(type) {
	case ChatMessage:
		next := h.state.Dispatch(state.ReceiveMessageAction{Gist: e.Gist, Message: e.Message})
		chatID := e.Gist.ChatID
		if chatID == "" {
			chatID = e.Message.ChatID
		}
		chat, _ := state.FindChat(next.Chats, chatID)
		if !state.IsStale(chat) || h.fetcher == nil {
			return nil
		}
		h.logger.Debug("chat stale after push, refetching",
			zap.String("chat_id", chatID),
			zap.Int64("latest", chat.Gist.LatestMessageID()),
			zap.Int("held", len(chat.Messages)))
		// The message is already applied. A failed refetch leaves the chat
		// stale for the next refresh and must not hold back later messages.
		if err := h.fetcher.RefreshChat(ctx, chatID); err != nil {
			h.logger.Warn("stale chat refetch failed",
				zap.String("chat_id", chatID),
				zap.Error(err))
		}
	case ChatTyping:
		h.state.Dispatch(state.SetTypingAction{ChatID: e.ChatID, UserIDs: e.UserIDs})
	case Connection:
		if e.IsConnected {
			h.state.Dispatch(state.AddConnectionAction{User: e.User, IsConnected: true})
		} else {
			h.state.Dispatch(state.ReceiveRequestAction{User: e.User})
		}
	case InviteAccepted:
		if e.InviteID != "" {
			h.state.Dispatch(state.DeleteInviteAction{InviteID: e.InviteID})
		}
		h.state.Dispatch(state.AddConnectionAction{User: e.User, IsConnected: true})
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, evt)
	}
	return nil
}
