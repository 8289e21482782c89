package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
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
	"github.com/yanivian/connect-app-sub000/internal/syncer"
)

// Service implements StateServer.
type Service struct {
	userID  string
	store   *state.Store
	machine *lifecycle.Machine
	cache   *replay.Cache
	queue   replay.Queue
	syncer  *syncer.Syncer
	sender  *outbox.Sender
	profile *profile.Manager
	bus     *bus.Bus
	logger  *zap.Logger
}

// Deps groups the collaborators of Service.
type Deps struct {
	UserID  string
	Store   *state.Store
	Machine *lifecycle.Machine
	Cache   *replay.Cache
	Queue   replay.Queue
	Syncer  *syncer.Syncer
	Sender  *outbox.Sender
	Profile *profile.Manager
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// NewService creates the state service.
func NewService(d Deps) *Service {
	return &Service{
		userID:  d.UserID,
		store:   d.Store,
		machine: d.Machine,
		cache:   d.Cache,
		queue:   d.Queue,
		syncer:  d.Syncer,
		sender:  d.Sender,
		profile: d.Profile,
		bus:     d.Bus,
		logger:  d.Logger,
	}
}

func (s *Service) GetState(_ context.Context, _ *GetStateRequest) (*GetStateResponse, error) {
	snap := s.store.Snapshot()
	resp := &GetStateResponse{
		UserID:   s.userID,
		AppState: string(s.machine.Current()),
		State:    snap,
		Gists:    state.SortedGists(snap.Chats),
	}
	if s.queue != nil {
		if n, err := s.queue.QueuedRemoteMessageCount(s.userID); err == nil {
			resp.QueueDepth = n
		}
	}
	return resp, nil
}

func (s *Service) GetAppState(_ context.Context, _ *Empty) (*AppStateResponse, error) {
	return &AppStateResponse{State: string(s.machine.Current())}, nil
}

func (s *Service) SetAppState(_ context.Context, req *SetAppStateRequest) (*AppStateResponse, error) {
	to, err := lifecycle.Parse(req.State)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.machine.Transition(to); err != nil {
		return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	return &AppStateResponse{State: string(s.machine.Current())}, nil
}

func (s *Service) DeliverPush(ctx context.Context, req *DeliverPushRequest) (*DeliverPushResponse, error) {
	if req.Message.MessageID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message id is required")
	}
	queued, err := s.cache.Deliver(ctx, req.Message)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeliverPushResponse{Queued: queued}, nil
}

func (s *Service) AddConnection(ctx context.Context, req *AddConnectionRequest) (*AddConnectionResponse, error) {
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user id is required")
	}
	res, err := s.syncer.AddConnection(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AddConnectionResponse{User: res.User, IsConnected: res.IsConnected}, nil
}

func (s *Service) CreateInvite(ctx context.Context, req *CreateInviteRequest) (*InviteResponse, error) {
	if req.PhoneNumber == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "phone number is required")
	}
	inv, err := s.syncer.CreateInvite(ctx, req.Name, req.PhoneNumber, req.Label)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InviteResponse{Invite: *inv}, nil
}

func (s *Service) DeleteInvite(ctx context.Context, req *DeleteInviteRequest) (*Empty, error) {
	if req.InviteID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "invite id is required")
	}
	if err := s.syncer.DeleteInvite(ctx, req.InviteID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) RefreshConnections(ctx context.Context, _ *Empty) (*ConnectionsResponse, error) {
	if err := s.syncer.RefreshConnections(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &ConnectionsResponse{Connections: s.store.Snapshot().Connections}, nil
}

func (s *Service) RefreshChat(ctx context.Context, req *RefreshChatRequest) (*ChatResponse, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id is required")
	}
	if err := s.syncer.RefreshChat(ctx, req.ChatID); err != nil {
		return nil, toStatus(err)
	}
	chat, _ := state.FindChat(s.store.Snapshot().Chats, req.ChatID)
	return &ChatResponse{Chat: chat}, nil
}

func (s *Service) SyncContacts(ctx context.Context, _ *Empty) (*SyncContactsResponse, error) {
	synced, err := s.syncer.SyncContacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SyncContactsResponse{Synced: synced, Contacts: s.store.Snapshot().Contacts}, nil
}

func (s *Service) SendMessage(_ context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	if req.ChatID == "" || strings.TrimSpace(req.Text) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id and text are required")
	}
	id, err := s.sender.Queue(req.ChatID, req.Text)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "queue message: %v", err)
	}
	return &SendMessageResponse{ClientMessageID: id}, nil
}

func (s *Service) SetDraft(_ context.Context, req *SetDraftRequest) (*Empty, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id is required")
	}
	if _, ok := state.FindChat(s.store.Snapshot().Chats, req.ChatID); !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "chat %s is not held", req.ChatID)
	}
	s.store.Dispatch(state.SetDraftAction{ChatID: req.ChatID, Draft: req.Draft})
	return &Empty{}, nil
}

func (s *Service) GetProfile(_ context.Context, _ *Empty) (*ProfileResponse, error) {
	p, found, err := s.profile.Current()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "load profile: %v", err)
	}
	return &ProfileResponse{Profile: p, Found: found}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*ProfileResponse, error) {
	u := backend.ProfileUpdate{Name: req.Name, EmailAddress: req.EmailAddress}
	var (
		p   *model.Profile
		err error
	)
	if len(req.Photo) > 0 {
		p, err = s.profile.SetPhoto(ctx, req.PhotoFilename, req.Photo, u)
	} else {
		p, err = s.profile.Update(ctx, u)
	}
	if errors.Is(err, profile.ErrEmptyUpdate) {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProfileResponse{Profile: *p, Found: true}, nil
}

func (s *Service) WatchState(req *WatchStateRequest, stream WatchStateServer) error {
	prefixes := req.Prefixes
	if len(prefixes) == 0 {
		prefixes = []string{"state.", "app."}
	}

	merged := make(chan bus.Event, 256)
	for _, p := range prefixes {
		ch, unsub := s.bus.Subscribe(p, 256)
		defer unsub()
		go forward(stream.Context(), ch, merged)
	}

	for {
		select {
		case evt := <-merged:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Warn("unencodable event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.Send(&Event{
				EventID:          uuid.New().String(),
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func forward(ctx context.Context, in <-chan bus.Event, out chan<- bus.Event) {
	for {
		select {
		case evt := <-in:
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case push.IsPermanent(err):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &apiErr):
		return grpcstatus.Error(httpCode(apiErr.StatusCode), err.Error())
	default:
		return grpcstatus.Error(codes.Unavailable, err.Error())
	}
}

func httpCode(status int) codes.Code {
	switch status {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Unavailable
	}
}
