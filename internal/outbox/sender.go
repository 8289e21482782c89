package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/backend"
	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/metrics"
	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/state"
	"github.com/yanivian/connect-app-sub000/internal/store"
)

// Poster posts a chat message to the backend. *backend.Client satisfies it.
type Poster interface {
	PostMessage(ctx context.Context, chatID, clientMessageID, text string) (*backend.PostMessageResult, error)
}

// Sender drains the outbox, posting each message and incorporating the
// chat the backend returns.
type Sender struct {
	db      *store.DB
	poster  Poster
	state   *state.Store
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, poster Poster, st *state.Store, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	return &Sender{
		db:      db,
		poster:  poster,
		state:   st,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Queue adds a message to the outbox and returns its client message ID.
func (s *Sender) Queue(chatID, text string) (string, error) {
	id := uuid.NewString()
	if err := s.db.QueueOutbox(id, chatID, text); err != nil {
		return "", err
	}
	return id, nil
}

// Start begins polling the outbox for pending messages. Entries left in
// flight by a previous run are requeued first.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueStaleSending(); err != nil {
		s.logger.Error("failed to requeue outbox", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted outbox entries", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		// Pushes applied while the post is in flight must survive its result.
		gen := s.state.BeginFetch(state.ChatKey(entry.ChatID))
		res, err := s.poster.PostMessage(ctx, entry.ChatID, entry.ClientMsgID, entry.Body)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.metrics.Outbox("failed")
			s.bus.Emit(bus.KindOutboxFailed, map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"chat_id":       entry.ChatID,
				"error":         err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, res.Message.MessageID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		if res.Chat.Gist.ChatID == "" {
			res.Chat.Gist.ChatID = entry.ChatID
		}
		if _, ok := s.state.DispatchFetched(gen, state.IncorporateChatAction{Chat: res.Chat}); !ok {
			// The chat moved on meanwhile; merge only the posted message.
			s.state.Dispatch(state.ReceiveMessageAction{
				Gist:    model.Gist{ChatID: entry.ChatID},
				Message: res.Message,
			})
		}
		s.metrics.Outbox("sent")

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.Int64("message_id", res.Message.MessageID))
		s.bus.Emit(bus.KindOutboxSent, map[string]any{
			"client_msg_id": entry.ClientMsgID,
			"chat_id":       entry.ChatID,
			"message_id":    res.Message.MessageID,
		})
	}
}
