package replay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/lifecycle"
	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/push"
	"github.com/yanivian/connect-app-sub000/internal/state"
	"github.com/yanivian/connect-app-sub000/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// recorder records handled message IDs and fails on demand.
type recorder struct {
	mu      sync.Mutex
	handled []string
	failOn  map[string]error
}

func (r *recorder) Handle(_ context.Context, msg push.RemoteMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[msg.MessageID]; err != nil {
		return err
	}
	r.handled = append(r.handled, msg.MessageID)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.handled...)
}

func chatMessage(t *testing.T, id string, msgID int64, text string) push.RemoteMessage {
	t.Helper()
	msg, err := push.Encode(id, push.ChatMessage{
		Gist:    model.Gist{ChatID: "C1"},
		Message: model.Message{MessageID: msgID, SenderID: "u2", Text: text},
	})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func queueLen(t *testing.T, db *store.DB) int64 {
	t.Helper()
	n, err := db.QueuedRemoteMessageCount("u1")
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestDeliverWhileActiveAppliesImmediately(t *testing.T) {
	db := testDB(t)
	m := lifecycle.NewMachine(nil)
	if err := m.Transition(lifecycle.Active); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	c := NewCache("u1", db, rec, m, nil, nil, zap.NewNop())

	if _, err := c.Deliver(context.Background(), push.RemoteMessage{MessageID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if got := rec.ids(); len(got) != 1 {
		t.Errorf("handled = %v, want [m1]", got)
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("queue = %d, want 0", n)
	}
}

func TestReplayOrder(t *testing.T) {
	db := testDB(t)
	m := lifecycle.NewMachine(nil)
	_ = m.Transition(lifecycle.Background)
	rec := &recorder{}
	c := NewCache("u1", db, rec, m, nil, nil, zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := c.Deliver(ctx, push.RemoteMessage{MessageID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.ids()) != 0 {
		t.Fatal("messages applied while in background")
	}

	res, err := c.Replay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 3 {
		t.Errorf("applied = %d, want 3", res.Applied)
	}
	got := rec.ids()
	if fmt.Sprint(got) != "[m1 m2 m3]" {
		t.Errorf("order = %v, want [m1 m2 m3]", got)
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("queue = %d after replay, want 0", n)
	}
}

func TestReplayStopsAtTransientFailure(t *testing.T) {
	db := testDB(t)
	m := lifecycle.NewMachine(nil)
	rec := &recorder{failOn: map[string]error{"m2": errors.New("backend unavailable")}}
	c := NewCache("u1", db, rec, m, nil, nil, zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_, _ = c.Deliver(ctx, push.RemoteMessage{MessageID: id})
	}

	res, err := c.Replay(ctx)
	if err == nil {
		t.Fatal("expected replay error")
	}
	if res.Applied != 1 || res.Remaining != 2 {
		t.Errorf("result = %+v, want 1 applied, 2 remaining", res)
	}
	if n := queueLen(t, db); n != 2 {
		t.Errorf("queue = %d, want 2", n)
	}

	// The next pass resumes at m2 without re-applying m1.
	rec.failOn = nil
	if _, err := c.Replay(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(rec.ids()); got != "[m1 m2 m3]" {
		t.Errorf("handled = %s, want [m1 m2 m3]", got)
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("queue = %d, want 0", n)
	}
}

func TestReplayDropsUndecodable(t *testing.T) {
	db := testDB(t)
	m := lifecycle.NewMachine(nil)
	rec := &recorder{failOn: map[string]error{"bad": fmt.Errorf("%w: poke", push.ErrUnknownKind)}}
	c := NewCache("u1", db, rec, m, nil, nil, zap.NewNop())
	ctx := context.Background()

	_, _ = c.Deliver(ctx, push.RemoteMessage{MessageID: "bad"})
	_, _ = c.Deliver(ctx, push.RemoteMessage{MessageID: "good"})
	if _, err := db.QueueRemoteMessage("u1", "garbage", []byte("not json")); err != nil {
		t.Fatal(err)
	}

	res, err := c.Replay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 1 || res.Dropped != 2 {
		t.Errorf("result = %+v, want 1 applied, 2 dropped", res)
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("queue = %d, want 0", n)
	}
}

func TestForegroundEdgeReplaysIntoChat(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	m := lifecycle.NewMachine(b)
	st := state.NewStore("u1", db, b, nil, zap.NewNop())
	h := push.NewHandler(st, nil, zap.NewNop())
	c := NewCache("u1", db, h, m, b, nil, zap.NewNop())

	ctx := context.Background()
	replayed, unsub := b.Subscribe(bus.KindPushReplayed, 1)
	defer unsub()
	if err := m.Transition(lifecycle.Active); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(lifecycle.Background); err != nil {
		t.Fatal(err)
	}
	c.Start(ctx)
	defer c.Stop()

	_, _ = c.Deliver(ctx, chatMessage(t, "p1", 1, "first"))
	_, _ = c.Deliver(ctx, chatMessage(t, "p2", 2, "second"))
	if len(st.Snapshot().Chats) != 0 {
		t.Fatal("messages applied while backgrounded")
	}
	if n := queueLen(t, db); n != 2 {
		t.Fatalf("queue = %d, want 2", n)
	}

	if err := m.Transition(lifecycle.Active); err != nil {
		t.Fatal(err)
	}
	select {
	case <-replayed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for replay")
	}

	chat, ok := state.FindChat(st.Snapshot().Chats, "C1")
	if !ok {
		t.Fatal("chat C1 missing")
	}
	if len(chat.Messages) != 2 || chat.Messages[0].MessageID != 1 || chat.Messages[1].MessageID != 2 {
		t.Errorf("messages = %+v, want IDs [1 2]", chat.Messages)
	}
	if chat.Gist.LatestMessageID() != 2 {
		t.Errorf("latest = %d, want 2", chat.Gist.LatestMessageID())
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("queue = %d, want 0", n)
	}
}

type failingFetcher struct{ err error }

func (f failingFetcher) RefreshChat(context.Context, string) error { return f.err }

func TestReplayContinuesPastFailedRefetch(t *testing.T) {
	db := testDB(t)
	m := lifecycle.NewMachine(nil)
	st := state.NewStore("u1", db, nil, nil, zap.NewNop())
	h := push.NewHandler(st, failingFetcher{errors.New("backend unavailable")}, zap.NewNop())
	c := NewCache("u1", db, h, m, nil, nil, zap.NewNop())
	ctx := context.Background()

	// Message 5 arrives with nothing before it held, so the chat is stale.
	if _, err := c.Deliver(ctx, chatMessage(t, "m1", 5, "late")); err != nil {
		t.Fatal(err)
	}
	conn, err := push.Encode("m2", push.Connection{User: model.User{UserID: "U"}, IsConnected: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Deliver(ctx, conn); err != nil {
		t.Fatal(err)
	}

	if err := m.Transition(lifecycle.Active); err != nil {
		t.Fatal(err)
	}
	res, err := c.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if res.Applied != 2 || res.Remaining != 0 {
		t.Errorf("result = %+v, want 2 applied", res)
	}
	if n := queueLen(t, db); n != 0 {
		t.Errorf("queue = %d, want 0", n)
	}

	snap := st.Snapshot()
	chat, ok := state.FindChat(snap.Chats, "C1")
	if !ok || len(chat.Messages) != 1 || !state.IsStale(chat) {
		t.Errorf("chat = %+v, want message 5 held and chat still stale", chat)
	}
	if got := snap.Connections.Connections; len(got) != 1 || got[0].UserID != "U" {
		t.Errorf("connections = %+v, want [U]", got)
	}
}

func TestDeliverReportsQueued(t *testing.T) {
	db := testDB(t)
	m := lifecycle.NewMachine(nil)
	if err := m.Transition(lifecycle.Active); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{failOn: map[string]error{"m1": errors.New("backend unavailable")}}
	c := NewCache("u1", db, rec, m, nil, nil, zap.NewNop())
	ctx := context.Background()

	// A live transient failure is queued rather than lost.
	queued, err := c.Deliver(ctx, push.RemoteMessage{MessageID: "m1"})
	if err != nil || !queued {
		t.Fatalf("Deliver(m1) = %v, %v; want queued", queued, err)
	}

	// m1 still blocks the queue, so m2 waits behind it even while active.
	queued, err = c.Deliver(ctx, push.RemoteMessage{MessageID: "m2"})
	if err != nil || !queued {
		t.Fatalf("Deliver(m2) = %v, %v; want queued", queued, err)
	}
	if n := queueLen(t, db); n != 2 {
		t.Errorf("queue = %d, want 2", n)
	}

	rec.failOn = nil
	if _, err := c.Replay(ctx); err != nil {
		t.Fatal(err)
	}
	queued, err = c.Deliver(ctx, push.RemoteMessage{MessageID: "m3"})
	if err != nil || queued {
		t.Errorf("Deliver(m3) = %v, %v; want applied live", queued, err)
	}
	if got := fmt.Sprint(rec.ids()); got != "[m1 m2 m3]" {
		t.Errorf("handled = %s, want [m1 m2 m3]", got)
	}
}
