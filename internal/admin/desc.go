// Package admin exposes operator RPCs over gRPC. Messages are protobuf
// well-known types so no generated code is needed.
package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "parley.admin.v1.Admin"

// AdminServer is the server API for the admin service.
type AdminServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPresence(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	CreateGroup(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	AddMember(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	OpenDirect(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Res proto.Message](name string, newReq func() Req, call func(AdminServer, context.Context, Req) (Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(Req))
			})
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AdminServer).WatchEvents(in, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newStruct() *structpb.Struct        { return new(structpb.Struct) }

// ServiceDesc describes the admin service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Stats", newEmpty, AdminServer.Stats),
		unary("GetPresence", newString, AdminServer.GetPresence),
		unary("CreateGroup", newStruct, AdminServer.CreateGroup),
		unary("AddMember", newStruct, AdminServer.AddMember),
		unary("OpenDirect", newStruct, AdminServer.OpenDirect),
		unary("ListMessages", newStruct, AdminServer.ListMessages),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "parley/admin/v1/admin.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}
