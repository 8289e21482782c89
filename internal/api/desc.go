package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "connect.v1.StateService"

const (
	MethodGetState           = "GetState"
	MethodGetAppState        = "GetAppState"
	MethodSetAppState        = "SetAppState"
	MethodDeliverPush        = "DeliverPush"
	MethodAddConnection      = "AddConnection"
	MethodCreateInvite       = "CreateInvite"
	MethodDeleteInvite       = "DeleteInvite"
	MethodRefreshConnections = "RefreshConnections"
	MethodRefreshChat        = "RefreshChat"
	MethodSyncContacts       = "SyncContacts"
	MethodSendMessage        = "SendMessage"
	MethodSetDraft           = "SetDraft"
	MethodGetProfile         = "GetProfile"
	MethodUpdateProfile      = "UpdateProfile"
	MethodWatchState         = "WatchState"
)

// StateServer is the server API for connect.v1.StateService.
type StateServer interface {
	GetState(context.Context, *GetStateRequest) (*GetStateResponse, error)
	GetAppState(context.Context, *Empty) (*AppStateResponse, error)
	SetAppState(context.Context, *SetAppStateRequest) (*AppStateResponse, error)
	DeliverPush(context.Context, *DeliverPushRequest) (*DeliverPushResponse, error)
	AddConnection(context.Context, *AddConnectionRequest) (*AddConnectionResponse, error)
	CreateInvite(context.Context, *CreateInviteRequest) (*InviteResponse, error)
	DeleteInvite(context.Context, *DeleteInviteRequest) (*Empty, error)
	RefreshConnections(context.Context, *Empty) (*ConnectionsResponse, error)
	RefreshChat(context.Context, *RefreshChatRequest) (*ChatResponse, error)
	SyncContacts(context.Context, *Empty) (*SyncContactsResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	SetDraft(context.Context, *SetDraftRequest) (*Empty, error)
	GetProfile(context.Context, *Empty) (*ProfileResponse, error)
	UpdateProfile(context.Context, *UpdateProfileRequest) (*ProfileResponse, error)
	WatchState(*WatchStateRequest, WatchStateServer) error
}

// WatchStateServer is the server side of the WatchState stream.
type WatchStateServer interface {
	Send(*Event) error
	Context() context.Context
}

// ServiceDesc describes connect.v1.StateService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StateServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetState, StateServer.GetState),
		unary(MethodGetAppState, StateServer.GetAppState),
		unary(MethodSetAppState, StateServer.SetAppState),
		unary(MethodDeliverPush, StateServer.DeliverPush),
		unary(MethodAddConnection, StateServer.AddConnection),
		unary(MethodCreateInvite, StateServer.CreateInvite),
		unary(MethodDeleteInvite, StateServer.DeleteInvite),
		unary(MethodRefreshConnections, StateServer.RefreshConnections),
		unary(MethodRefreshChat, StateServer.RefreshChat),
		unary(MethodSyncContacts, StateServer.SyncContacts),
		unary(MethodSendMessage, StateServer.SendMessage),
		unary(MethodSetDraft, StateServer.SetDraft),
		unary(MethodGetProfile, StateServer.GetProfile),
		unary(MethodUpdateProfile, StateServer.UpdateProfile),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    MethodWatchState,
		Handler:       watchStateHandler,
		ServerStreams: true,
	}},
	Metadata: "connect/v1/state.proto",
}

// RegisterStateServer registers srv on s.
func RegisterStateServer(s grpc.ServiceRegistrar, srv StateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(StateServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				r := new(Req)
				if err := fromStruct(req.(*structpb.Struct), r); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "%s: %v", method, err)
				}
				resp, err := call(srv.(StateServer), ctx, r)
				if err != nil {
					return nil, err
				}
				return toStruct(resp)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchStateHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	req := new(WatchStateRequest)
	if err := fromStruct(in, req); err != nil {
		return status.Errorf(codes.InvalidArgument, "%s: %v", MethodWatchState, err)
	}
	return srv.(StateServer).WatchState(req, &watchStateServer{stream})
}

type watchStateServer struct {
	grpc.ServerStream
}

func (x *watchStateServer) Send(evt *Event) error {
	s, err := toStruct(evt)
	if err != nil {
		return err
	}
	return x.ServerStream.SendMsg(s)
}
