// Package replay queues push messages that arrive while the app is not in
// the foreground and replays them, in arrival order, on the next edge into
// the active state.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/lifecycle"
	"github.com/yanivian/connect-app-sub000/internal/metrics"
	"github.com/yanivian/connect-app-sub000/internal/push"
	"github.com/yanivian/connect-app-sub000/internal/store"
)

// Queue is the durable per-user message queue. *store.DB satisfies it.
type Queue interface {
	QueueRemoteMessage(userID, messageID string, payload []byte) (int64, error)
	QueuedRemoteMessages(userID string) ([]store.QueuedMessage, error)
	AckRemoteMessage(userID string, seq int64) error
	QueuedRemoteMessageCount(userID string) (int64, error)
}

// MessageHandler applies one push message. *push.Handler satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, msg push.RemoteMessage) error
}

// Cache routes incoming push messages either straight to the handler or
// into the durable queue, depending on the app lifecycle.
type Cache struct {
	userID  string
	queue   Queue
	handler MessageHandler
	machine *lifecycle.Machine
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	// mu serializes live delivery and replay so queued messages are
	// always applied before later live ones.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCache creates a replay cache for userID.
func NewCache(userID string, q Queue, h MessageHandler, machine *lifecycle.Machine, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Cache {
	return &Cache{
		userID:  userID,
		queue:   q,
		handler: h,
		machine: machine,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Result summarizes one replay pass.
type Result struct {
	Applied   int
	Dropped   int
	Remaining int
}

// Deliver accepts a push message. While the app is active and nothing is
// queued, the message is applied immediately. Otherwise it is appended to
// the durable queue and queued is true; a queue write failure is logged
// and the message is lost. The returned error is a permanent decode
// failure of a live message, reported so the sender can be told.
func (c *Cache) Deliver(ctx context.Context, msg push.RemoteMessage) (queued bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.machine.IsActive() {
		c.enqueue(msg)
		return true, nil
	}

	pending, err := c.queue.QueuedRemoteMessageCount(c.userID)
	if err != nil {
		c.logger.Warn("failed to read replay queue depth", zap.Error(err))
	}
	if pending > 0 {
		// Keep arrival order behind the messages still waiting.
		c.enqueue(msg)
		if _, err := c.replayLocked(ctx); err != nil {
			c.logger.Warn("replay incomplete", zap.Error(err))
		}
		return true, nil
	}

	err = c.handler.Handle(ctx, msg)
	switch {
	case err == nil:
		c.metrics.Push("applied")
		c.bus.Emit(bus.KindPushApplied, msg.MessageID)
		return false, nil
	case push.IsPermanent(err):
		c.metrics.Push("dropped")
		c.logger.Warn("dropping undecodable push", zap.String("message_id", msg.MessageID), zap.Error(err))
		return false, err
	default:
		c.metrics.Push("failed")
		c.logger.Warn("live push failed, queueing for replay", zap.String("message_id", msg.MessageID), zap.Error(err))
		c.enqueue(msg)
		return true, nil
	}
}

func (c *Cache) enqueue(msg push.RemoteMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode push for queue", zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}
	seq, err := c.queue.QueueRemoteMessage(c.userID, msg.MessageID, payload)
	if err != nil {
		c.logger.Error("failed to queue push", zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}
	c.metrics.Push("queued")
	c.refreshDepth()
	c.bus.Emit(bus.KindPushQueued, msg.MessageID)
	c.logger.Debug("push queued", zap.String("message_id", msg.MessageID), zap.Int64("seq", seq))
}

// Replay applies every queued message in arrival order. Each message is
// removed from the queue right after it is applied. Undecodable messages
// are dropped; the first transient failure stops the pass and leaves it
// and everything after it queued.
func (c *Cache) Replay(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replayLocked(ctx)
}

func (c *Cache) replayLocked(ctx context.Context) (Result, error) {
	var res Result
	queued, err := c.queue.QueuedRemoteMessages(c.userID)
	if err != nil {
		return res, fmt.Errorf("load replay queue: %w", err)
	}
	if len(queued) == 0 {
		return res, nil
	}
	c.metrics.ReplayStarted(len(queued))
	c.logger.Info("replaying queued push messages", zap.Int("count", len(queued)))

	for i, q := range queued {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(queued) - i
			return res, err
		}

		var msg push.RemoteMessage
		err := json.Unmarshal(q.Payload, &msg)
		if err == nil {
			err = c.handler.Handle(ctx, msg)
		} else {
			err = fmt.Errorf("%w: %v", push.ErrMalformed, err)
		}

		switch {
		case err == nil:
			res.Applied++
			c.metrics.Push("replayed")
		case push.IsPermanent(err):
			res.Dropped++
			c.metrics.Push("dropped")
			c.logger.Warn("dropping undecodable queued push",
				zap.Int64("seq", q.Seq),
				zap.String("message_id", q.MessageID),
				zap.Error(err))
		default:
			res.Remaining = len(queued) - i
			c.metrics.Push("failed")
			c.refreshDepth()
			c.logger.Warn("replay stopped",
				zap.Int64("seq", q.Seq),
				zap.String("message_id", q.MessageID),
				zap.Int("remaining", res.Remaining),
				zap.Error(err))
			return res, fmt.Errorf("replay %s: %w", q.MessageID, err)
		}

		if err := c.queue.AckRemoteMessage(c.userID, q.Seq); err != nil {
			res.Remaining = len(queued) - i
			c.refreshDepth()
			return res, fmt.Errorf("ack %s: %w", q.MessageID, err)
		}
	}

	c.refreshDepth()
	c.bus.Emit(bus.KindPushReplayed, res)
	c.logger.Info("replay complete", zap.Int("applied", res.Applied), zap.Int("dropped", res.Dropped))
	return res, nil
}

func (c *Cache) refreshDepth() {
	n, err := c.queue.QueuedRemoteMessageCount(c.userID)
	if err == nil {
		c.metrics.SetQueueDepth(n)
	}
}

// Start subscribes to lifecycle changes and replays on every edge into
// the active state. If the app is already active, queued messages left by
// a previous run are replayed right away.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ch, unsub := c.bus.Subscribe("app.", 16)

	go func() {
		defer close(c.done)
		defer unsub()

		if c.machine.IsActive() {
			c.replay(ctx)
		}
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(lifecycle.Change)
				if ok && change.Foregrounded() {
					c.replay(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Cache) replay(ctx context.Context) {
	if _, err := c.Replay(ctx); err != nil {
		c.logger.Warn("replay incomplete", zap.Error(err))
	}
}

// Stop ends the subscription and waits for an in-progress replay.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}
