package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/yanivian/connect-app-sub000/internal/backend"
	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/lifecycle"
	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/outbox"
	"github.com/yanivian/connect-app-sub000/internal/profile"
	"github.com/yanivian/connect-app-sub000/internal/push"
	"github.com/yanivian/connect-app-sub000/internal/replay"
	"github.com/yanivian/connect-app-sub000/internal/state"
	"github.com/yanivian/connect-app-sub000/internal/store"
	"github.com/yanivian/connect-app-sub000/internal/syncer"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/invite/create", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fmt.Fprintf(w, `{"InviteID":"inv1","PhoneNumber":%q}`, r.PostForm.Get("phoneNumber"))
	})
	mux.HandleFunc("/chat/get", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such chat", http.StatusNotFound)
	})
	mux.HandleFunc("/profile/update", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fmt.Fprintf(w, `{"UserID":"u1","Name":%q}`, r.PostForm.Get("name"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func startServer(t *testing.T) (*Client, *state.Store) {
	t.Helper()
	// Short path to stay under the Unix socket length limit.
	dir, err := os.MkdirTemp("/tmp", "connect-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	db, err := store.Open(filepath.Join(dir, "connect.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	machine := lifecycle.NewMachine(b)
	st := state.NewStore("u1", db, b, nil, logger)
	api := backend.New(backend.Options{
		BaseURL:  fakeBackend(t).URL,
		Identity: backend.StaticIdentity{UserID: "u1", Token: "tok"},
	})
	sy := syncer.New(api, st, nil, b, logger)
	cache := replay.NewCache("u1", db, push.NewHandler(st, sy, logger), machine, b, nil, logger)
	cache.Start(context.Background())
	t.Cleanup(cache.Stop)

	svc := NewService(Deps{
		UserID:  "u1",
		Store:   st,
		Machine: machine,
		Cache:   cache,
		Queue:   db,
		Syncer:  sy,
		Sender:  outbox.NewSender(db, api, st, b, nil, logger),
		Profile: profile.New("u1", api, db, b, logger),
		Bus:     b,
		Logger:  logger,
	})

	socketPath := filepath.Join(dir, "d.sock")
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	RegisterStateServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.GracefulStop)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, st
}

func chatPush(t *testing.T, id string, msgID int64) push.RemoteMessage {
	t.Helper()
	msg, err := push.Encode(id, push.ChatMessage{
		Gist:    model.Gist{ChatID: "C1"},
		Message: model.Message{MessageID: msgID, SenderID: "u2", Text: id},
	})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestAppStateAndReplay(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	resp, err := c.GetState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.UserID != "u1" || resp.AppState != "launching" {
		t.Errorf("GetState() = %+v", resp)
	}

	if _, err := c.SetAppState(ctx, "background"); err != nil {
		t.Fatal(err)
	}
	for i, id := range []string{"p1", "p2"} {
		res, err := c.DeliverPush(ctx, chatPush(t, id, int64(i+1)))
		if err != nil {
			t.Fatal(err)
		}
		if !res.Queued {
			t.Errorf("%s not queued while backgrounded", id)
		}
	}
	if resp, _ := c.GetState(ctx); resp.QueueDepth != 2 || len(resp.State.Chats) != 0 {
		t.Fatalf("before foreground: depth=%d chats=%d", resp.QueueDepth, len(resp.State.Chats))
	}

	if _, err := c.SetAppState(ctx, "active"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := c.GetState(ctx)
		if err != nil {
			t.Fatal(err)
		}
		chat, ok := state.FindChat(resp.State.Chats, "C1")
		if ok && len(chat.Messages) == 2 && resp.QueueDepth == 0 {
			if chat.Gist.LatestMessageID() != 2 {
				t.Errorf("latest = %d, want 2", chat.Gist.LatestMessageID())
			}
			if len(resp.Gists) != 1 {
				t.Errorf("gists = %+v", resp.Gists)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replay did not complete: %+v", resp)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSetAppStateErrors(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	_, err := c.SetAppState(ctx, "asleep")
	if grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("unknown state: code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
	_, err = c.SetAppState(ctx, "inactive")
	if grpcstatus.Code(err) != codes.FailedPrecondition {
		t.Errorf("launching->inactive: code = %v, want FailedPrecondition", grpcstatus.Code(err))
	}
}

func TestDeliverUndecodablePush(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()
	if _, err := c.SetAppState(ctx, "active"); err != nil {
		t.Fatal(err)
	}
	_, err := c.DeliverPush(ctx, push.RemoteMessage{MessageID: "x", Data: map[string]string{"kind": "poke"}})
	if grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestInviteAndBackendErrors(t *testing.T) {
	c, st := startServer(t)
	ctx := context.Background()

	res, err := c.CreateInvite(ctx, &CreateInviteRequest{PhoneNumber: "+15550001"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Invite.InviteID != "inv1" {
		t.Errorf("invite = %+v", res.Invite)
	}
	if got := st.Snapshot().Connections.Invites; len(got) != 1 {
		t.Errorf("state invites = %v", got)
	}

	_, err = c.RefreshChat(ctx, "missing")
	if grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("RefreshChat(missing) code = %v, want NotFound", grpcstatus.Code(err))
	}
	_, err = c.SendMessage(ctx, "C1", "  ")
	if grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("empty message code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestWatchState(t *testing.T) {
	c, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan *Event, 1)
	errStop := errors.New("stop")
	go func() {
		_ = c.WatchState(ctx, []string{"app."}, func(evt *Event) error {
			got <- evt
			return errStop
		})
	}()

	// The stream subscribes asynchronously; retry the transition edge.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	states := []string{"active", "background"}
	for i := 0; ; i++ {
		select {
		case evt := <-got:
			if evt.Kind != bus.KindAppStateChanged || evt.EventID == "" {
				t.Errorf("event = %+v", evt)
			}
			return
		case <-tick.C:
			if _, err := c.SetAppState(ctx, states[i%2]); err != nil {
				t.Fatal(err)
			}
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}

func TestSetDraft(t *testing.T) {
	c, st := startServer(t)
	ctx := context.Background()

	err := c.SetDraft(ctx, "C9", "hi")
	if got := grpcstatus.Code(err); got != codes.NotFound {
		t.Fatalf("draft for unknown chat: code = %v, want NotFound", got)
	}

	st.Dispatch(state.IncorporateChatAction{Chat: model.Chat{Gist: model.Gist{ChatID: "C1"}}})
	if err := c.SetDraft(ctx, "C1", "half a thought"); err != nil {
		t.Fatal(err)
	}
	chat, ok := state.FindChat(st.Snapshot().Chats, "C1")
	if !ok || chat.Gist.Draft != "half a thought" {
		t.Fatalf("chat = %+v, want draft set", chat)
	}
}

func TestProfileRPCs(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	resp, err := c.GetProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Found {
		t.Fatalf("profile found before any update: %+v", resp.Profile)
	}

	_, err = c.UpdateProfile(ctx, &UpdateProfileRequest{})
	if got := grpcstatus.Code(err); got != codes.InvalidArgument {
		t.Fatalf("empty update: code = %v, want InvalidArgument", got)
	}

	if _, err := c.UpdateProfile(ctx, &UpdateProfileRequest{Name: "Grace"}); err != nil {
		t.Fatal(err)
	}
	resp, err = c.GetProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Found || resp.Profile.Name != "Grace" {
		t.Fatalf("profile = %+v found=%v, want Grace", resp.Profile, resp.Found)
	}
}
