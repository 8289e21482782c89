package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanivian/connect-app-sub000/internal/push"
)

// Client is a StateService client over the daemon's Unix domain socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := fromStruct(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetState(ctx context.Context) (*GetStateResponse, error) {
	return invoke[GetStateResponse](ctx, c, MethodGetState, &GetStateRequest{})
}

func (c *Client) GetAppState(ctx context.Context) (*AppStateResponse, error) {
	return invoke[AppStateResponse](ctx, c, MethodGetAppState, &Empty{})
}

func (c *Client) SetAppState(ctx context.Context, st string) (*AppStateResponse, error) {
	return invoke[AppStateResponse](ctx, c, MethodSetAppState, &SetAppStateRequest{State: st})
}

func (c *Client) DeliverPush(ctx context.Context, msg push.RemoteMessage) (*DeliverPushResponse, error) {
	return invoke[DeliverPushResponse](ctx, c, MethodDeliverPush, &DeliverPushRequest{Message: msg})
}

func (c *Client) AddConnection(ctx context.Context, userID string) (*AddConnectionResponse, error) {
	return invoke[AddConnectionResponse](ctx, c, MethodAddConnection, &AddConnectionRequest{UserID: userID})
}

func (c *Client) CreateInvite(ctx context.Context, req *CreateInviteRequest) (*InviteResponse, error) {
	return invoke[InviteResponse](ctx, c, MethodCreateInvite, req)
}

func (c *Client) DeleteInvite(ctx context.Context, inviteID string) error {
	_, err := invoke[Empty](ctx, c, MethodDeleteInvite, &DeleteInviteRequest{InviteID: inviteID})
	return err
}

func (c *Client) RefreshConnections(ctx context.Context) (*ConnectionsResponse, error) {
	return invoke[ConnectionsResponse](ctx, c, MethodRefreshConnections, &Empty{})
}

func (c *Client) RefreshChat(ctx context.Context, chatID string) (*ChatResponse, error) {
	return invoke[ChatResponse](ctx, c, MethodRefreshChat, &RefreshChatRequest{ChatID: chatID})
}

func (c *Client) SyncContacts(ctx context.Context) (*SyncContactsResponse, error) {
	return invoke[SyncContactsResponse](ctx, c, MethodSyncContacts, &Empty{})
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c, MethodSendMessage, &SendMessageRequest{ChatID: chatID, Text: text})
}

func (c *Client) SetDraft(ctx context.Context, chatID, draft string) error {
	_, err := invoke[Empty](ctx, c, MethodSetDraft, &SetDraftRequest{ChatID: chatID, Draft: draft})
	return err
}

func (c *Client) GetProfile(ctx context.Context) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, c, MethodGetProfile, &Empty{})
}

func (c *Client) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, c, MethodUpdateProfile, req)
}

// WatchState streams events until ctx is cancelled or the stream fails.
// fn is called for each event; a non-nil return ends the watch.
func (c *Client) WatchState(ctx context.Context, prefixes []string, fn func(*Event) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod(MethodWatchState))
	if err != nil {
		return err
	}
	in, err := toStruct(&WatchStateRequest{Prefixes: prefixes})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			return err
		}
		evt := new(Event)
		if err := fromStruct(out, evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
