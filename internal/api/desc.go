// Package api implements the relay admin gRPC service. Messages are
// google.protobuf.Struct values so the service needs no generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "relay.admin.v1.AdminService"

// Full method names.
const (
	MethodGetPresence       = "/" + serviceName + "/GetPresence"
	MethodGetRoomStats      = "/" + serviceName + "/GetRoomStats"
	MethodGetUnreadCounts   = "/" + serviceName + "/GetUnreadCounts"
	MethodListConversations = "/" + serviceName + "/ListConversations"
	MethodWatchEvents       = "/" + serviceName + "/WatchEvents"
)

// AdminServer is the server API of the admin service.
type AdminServer interface {
	GetPresence(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetRoomStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetUnreadCounts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the admin service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPresence", Handler: getPresenceHandler},
		{MethodName: "GetRoomStats", Handler: getRoomStatsHandler},
		{MethodName: "GetUnreadCounts", Handler: getUnreadCountsHandler},
		{MethodName: "ListConversations", Handler: listConversationsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "relay/admin/v1/admin.proto",
}

func getPresenceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetPresence(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetPresence}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).GetPresence(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getRoomStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetRoomStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetRoomStats}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).GetRoomStats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getUnreadCountsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetUnreadCounts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetUnreadCounts}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).GetUnreadCounts(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listConversationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ListConversations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListConversations}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ListConversations(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AdminServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
