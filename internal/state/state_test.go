package state

import (
	"context"
	"path/filepath"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/store"
)

func msg(id int64, text string) model.Message {
	return model.Message{MessageID: id, ChatID: "C1", SenderID: "u2", Text: text}
}

func TestIncorporateChatIdempotent(t *testing.T) {
	initial := []model.Chat{{Gist: model.Gist{ChatID: "C0"}}}
	update := model.Chat{
		Gist:     model.Gist{ChatID: "C1", LatestMessage: &model.Message{MessageID: 2}},
		Messages: []model.Message{msg(2, "b"), msg(1, "a")},
	}

	once := IncorporateChat(initial, update)
	twice := IncorporateChat(once, update)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second apply changed state:\nonce  %+v\ntwice %+v", once, twice)
	}
	if len(once) != 2 {
		t.Fatalf("len = %d, want 2", len(once))
	}
	if got := once[1].Messages; got[0].MessageID != 1 || got[1].MessageID != 2 {
		t.Errorf("messages not sorted: %+v", got)
	}
	if len(initial) != 1 {
		t.Error("input slice was modified")
	}
}

func TestIncorporateChatReplacesInPlace(t *testing.T) {
	chats := []model.Chat{
		{Gist: model.Gist{ChatID: "A"}},
		{Gist: model.Gist{ChatID: "B", Draft: "old"}},
		{Gist: model.Gist{ChatID: "C"}},
	}
	got := IncorporateChat(chats, model.Chat{Gist: model.Gist{ChatID: "B", Draft: "new"}})
	if len(got) != 3 || got[1].Gist.Draft != "new" {
		t.Errorf("got %+v, want B replaced at index 1", got)
	}
}

func TestReceiveMessage(t *testing.T) {
	chats := []model.Chat{{
		Gist: model.Gist{
			ChatID:        "C1",
			LatestMessage: &model.Message{MessageID: 1},
			TypingUserIDs: []string{"u2", "u3"},
		},
		Messages: []model.Message{msg(1, "a")},
	}}

	got := ReceiveMessage(chats, model.Gist{ChatID: "C1"}, msg(2, "b"))
	chat, ok := FindChat(got, "C1")
	if !ok {
		t.Fatal("chat C1 missing")
	}
	if len(chat.Messages) != 2 || chat.Messages[1].Text != "b" {
		t.Errorf("messages = %+v", chat.Messages)
	}
	if chat.Gist.LatestMessageID() != 2 {
		t.Errorf("latest = %d, want 2", chat.Gist.LatestMessageID())
	}
	if !reflect.DeepEqual(chat.Gist.TypingUserIDs, []string{"u3"}) {
		t.Errorf("typing = %v, want sender removed", chat.Gist.TypingUserIDs)
	}
	if len(chats[0].Messages) != 1 || len(chats[0].Gist.TypingUserIDs) != 2 {
		t.Error("input chat was modified")
	}

	// Redelivery is a no-op and an older message never rewinds the gist.
	again := ReceiveMessage(got, model.Gist{ChatID: "C1"}, msg(2, "b"))
	if !reflect.DeepEqual(got, again) {
		t.Error("redelivered message changed state")
	}
	older := ReceiveMessage(got, model.Gist{ChatID: "C1"}, msg(1, "a"))
	if c, _ := FindChat(older, "C1"); c.Gist.LatestMessageID() != 2 {
		t.Errorf("latest rewound to %d", c.Gist.LatestMessageID())
	}
}

func TestReceiveMessageCreatesChat(t *testing.T) {
	got := ReceiveMessage(nil, model.Gist{}, msg(1, "hi"))
	chat, ok := FindChat(got, "C1")
	if !ok {
		t.Fatal("chat not created")
	}
	if chat.Gist.LatestMessageID() != 1 || len(chat.Messages) != 1 {
		t.Errorf("chat = %+v", chat)
	}
	if IsStale(chat) {
		t.Error("fresh chat reported stale")
	}
}

func TestIsStale(t *testing.T) {
	tests := []struct {
		name string
		chat model.Chat
		want bool
	}{
		{"empty", model.Chat{}, false},
		{"complete", model.Chat{
			Gist:     model.Gist{LatestMessage: &model.Message{MessageID: 2}},
			Messages: []model.Message{msg(1, ""), msg(2, "")},
		}, false},
		{"gap", model.Chat{
			Gist:     model.Gist{LatestMessage: &model.Message{MessageID: 3}},
			Messages: []model.Message{msg(3, "")},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.chat); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddConnectionAccept(t *testing.T) {
	u := model.User{UserID: "U", Name: "Una"}
	c := model.Connections{Incoming: []model.User{u}}

	got := AddConnection(c, u, true)
	if len(got.Incoming) != 0 {
		t.Errorf("Incoming = %v, want empty", got.Incoming)
	}
	if !reflect.DeepEqual(got.Connections, []model.User{u}) {
		t.Errorf("Connections = %v, want [U]", got.Connections)
	}
	if len(c.Incoming) != 1 {
		t.Error("input was modified")
	}
}

func TestAddConnectionUnilateral(t *testing.T) {
	u := model.User{UserID: "U"}
	got := AddConnection(model.Connections{}, u, false)
	if len(got.Outgoing) != 1 || len(got.Connections) != 0 {
		t.Errorf("got %+v, want only Outgoing=[U]", got)
	}
	got = AddConnection(got, u, false)
	if len(got.Outgoing) != 1 {
		t.Errorf("duplicate outgoing: %v", got.Outgoing)
	}
}

func TestReceiveRequestIgnoresConnected(t *testing.T) {
	u := model.User{UserID: "U"}
	c := model.Connections{Connections: []model.User{u}}
	if got := ReceiveRequest(c, u); len(got.Incoming) != 0 {
		t.Errorf("Incoming = %v, want empty", got.Incoming)
	}
	if got := ReceiveRequest(model.Connections{}, u); len(got.Incoming) != 1 {
		t.Errorf("Incoming = %v, want [U]", got.Incoming)
	}
}

func TestInvites(t *testing.T) {
	a := model.Invite{InviteID: "1", Name: "Alice"}
	b := model.Invite{InviteID: "2", Name: "Bob"}
	c := AddInvite(AddInvite(model.Connections{}, a), b)

	renamed := model.Invite{InviteID: "1", Name: "Alicia"}
	c = AddInvite(c, renamed)
	if len(c.Invites) != 2 || c.Invites[0].Name != "Alicia" {
		t.Errorf("Invites = %+v, want Alicia replaced in place", c.Invites)
	}

	c = DeleteInvite(c, "1")
	if len(c.Invites) != 1 || c.Invites[0].InviteID != "2" {
		t.Errorf("Invites = %+v, want [2]", c.Invites)
	}
}

func TestRefreshContactsReplacesWholesale(t *testing.T) {
	s := State{Contacts: model.ContactsSnapshot{
		Users:          []model.User{{UserID: "A"}, {UserID: "B"}},
		SyncedAtMillis: 10,
	}}
	s = Reduce(s, RefreshContactsAction{Snapshot: model.ContactsSnapshot{Users: []model.User{{UserID: "C"}}}})
	want := model.ContactsSnapshot{Users: []model.User{{UserID: "C"}}}
	if !reflect.DeepEqual(s.Contacts, want) {
		t.Errorf("Contacts = %+v, want %+v", s.Contacts, want)
	}
}

func TestSortedGists(t *testing.T) {
	chats := []model.Chat{
		{Gist: model.Gist{ChatID: "new", LatestMessage: &model.Message{MessageID: 9}}},
		{Gist: model.Gist{ChatID: "empty"}},
		{Gist: model.Gist{ChatID: "old", LatestMessage: &model.Message{MessageID: 2}}},
	}
	var ids []string
	for _, g := range SortedGists(chats) {
		ids = append(ids, g.ChatID)
	}
	if want := []string{"empty", "old", "new"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func testStore(t *testing.T, b *bus.Bus) (*Store, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore("u1", db, b, nil, zap.NewNop()), db
}

func TestStoreDispatchPersistsAndPublishes(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("state.", 4)
	defer unsub()

	s, db := testStore(t, b)
	u := model.User{UserID: "U"}
	s.Dispatch(ReceiveRequestAction{User: u})

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindConnectionsChanged {
			t.Errorf("kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	restored := NewStore("u1", db, nil, nil, zap.NewNop())
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := restored.Snapshot().Connections.Incoming; len(got) != 1 || got[0].UserID != "U" {
		t.Errorf("restored Incoming = %v, want [U]", got)
	}
}

func TestStoreRestoreEmpty(t *testing.T) {
	s, _ := testStore(t, nil)
	if err := s.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot(); !reflect.DeepEqual(got, State{}) {
		t.Errorf("Snapshot() = %+v, want empty", got)
	}
}

func TestStoreFencesStaleFetch(t *testing.T) {
	s, _ := testStore(t, nil)
	u := model.User{UserID: "U"}

	// A fetch starts, then the user accepts a request locally.
	gen := s.BeginFetch(string(SliceConnections))
	s.Dispatch(ReceiveRequestAction{User: u})
	s.Dispatch(AddConnectionAction{User: u, IsConnected: true})

	stale := model.Connections{Incoming: []model.User{u}}
	if _, ok := s.DispatchFetched(gen, ReplaceConnectionsAction{Connections: stale}); ok {
		t.Fatal("stale fetch was applied")
	}
	if got := s.Snapshot().Connections; len(got.Connections) != 1 || len(got.Incoming) != 0 {
		t.Errorf("local update overwritten: %+v", got)
	}

	fresh := s.BeginFetch(string(SliceConnections))
	if _, ok := s.DispatchFetched(fresh, ReplaceConnectionsAction{Connections: model.Connections{}}); !ok {
		t.Error("current fetch was discarded")
	}
}

func TestStoreFencesOverlappingFetches(t *testing.T) {
	s, _ := testStore(t, nil)
	key := ChatKey("C1")
	first := s.BeginFetch(key)
	second := s.BeginFetch(key)

	newer := model.Chat{Gist: model.Gist{ChatID: "C1", Draft: "second"}}
	if _, ok := s.DispatchFetched(second, IncorporateChatAction{Chat: newer}); !ok {
		t.Fatal("latest fetch discarded")
	}
	older := model.Chat{Gist: model.Gist{ChatID: "C1", Draft: "first"}}
	if _, ok := s.DispatchFetched(first, IncorporateChatAction{Chat: older}); ok {
		t.Fatal("older fetch applied")
	}
	if c, _ := FindChat(s.Snapshot().Chats, "C1"); c.Gist.Draft != "second" {
		t.Errorf("draft = %q, want second", c.Gist.Draft)
	}

	// Other keys are unaffected.
	other := s.BeginFetch(ChatKey("C2"))
	if _, ok := s.DispatchFetched(other, IncorporateChatAction{Chat: model.Chat{Gist: model.Gist{ChatID: "C2"}}}); !ok {
		t.Error("fetch of unrelated chat discarded")
	}
}

func TestStoreChangeEventsFollowDispatchOrder(t *testing.T) {
	b := bus.New()
	st := NewStore("u1", nil, b, nil, zap.NewNop())
	const n = 50
	ch, unsub := b.Subscribe(bus.KindChatsChanged, n)
	defer unsub()

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Dispatch(IncorporateChatAction{Chat: model.Chat{Gist: model.Gist{ChatID: fmt.Sprintf("C%d", i)}}})
		}()
	}
	wg.Wait()

	// Each dispatch adds one chat, so event payloads must grow by one.
	for want := 1; want <= n; want++ {
		evt := <-ch
		if got := len(evt.Payload.([]model.Chat)); got != want {
			t.Fatalf("event %d carries %d chats, want %d", want, got, want)
		}
	}
}
