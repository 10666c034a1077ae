package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.hotspots.v1.Hotspots"

// Method names exposed by the Hotspots service.
const (
	MethodPing                     = "Ping"
	MethodTrain                    = "Train"
	MethodDetect                   = "Detect"
	MethodStartSelfDiagnostics     = "StartSelfDiagnostics"
	MethodGetSelfDiagnosticsResult = "GetSelfDiagnosticsResult"
	MethodGetParameters            = "GetParameters"
	MethodSetParameters            = "SetParameters"
)

// HotspotsServer is the server API for the Hotspots service. Every message is a
// google.protobuf.Struct; handlers.go documents the field layout per method.
type HotspotsServer interface {
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Train(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Detect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSelfDiagnostics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSelfDiagnosticsResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetParameters(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetParameters(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedHotspotsServer can be embedded to keep implementations compiling
// when methods are added.
type UnimplementedHotspotsServer struct{}

func (UnimplementedHotspotsServer) Ping(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}
func (UnimplementedHotspotsServer) Train(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Train not implemented")
}
func (UnimplementedHotspotsServer) Detect(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Detect not implemented")
}
func (UnimplementedHotspotsServer) StartSelfDiagnostics(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method StartSelfDiagnostics not implemented")
}
func (UnimplementedHotspotsServer) GetSelfDiagnosticsResult(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSelfDiagnosticsResult not implemented")
}
func (UnimplementedHotspotsServer) GetParameters(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetParameters not implemented")
}
func (UnimplementedHotspotsServer) SetParameters(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SetParameters not implemented")
}

type unaryCall func(HotspotsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HotspotsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HotspotsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Hotspots service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HotspotsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodPing, HotspotsServer.Ping),
		unaryMethod(MethodTrain, HotspotsServer.Train),
		unaryMethod(MethodDetect, HotspotsServer.Detect),
		unaryMethod(MethodStartSelfDiagnostics, HotspotsServer.StartSelfDiagnostics),
		unaryMethod(MethodGetSelfDiagnosticsResult, HotspotsServer.GetSelfDiagnosticsResult),
		unaryMethod(MethodGetParameters, HotspotsServer.GetParameters),
		unaryMethod(MethodSetParameters, HotspotsServer.SetParameters),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/hotspots/v1/hotspots.proto",
}

// RegisterHotspotsServer registers srv on s.
func RegisterHotspotsServer(s grpc.ServiceRegistrar, srv HotspotsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is the client API for the Hotspots service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodPing, nil, opts...)
}

func (c *Client) Train(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodTrain, in, opts...)
}

func (c *Client) Detect(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDetect, in, opts...)
}

func (c *Client) StartSelfDiagnostics(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStartSelfDiagnostics, nil, opts...)
}

func (c *Client) GetSelfDiagnosticsResult(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSelfDiagnosticsResult, in, opts...)
}

func (c *Client) GetParameters(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetParameters, in, opts...)
}

func (c *Client) SetParameters(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSetParameters, in, opts...)
}
