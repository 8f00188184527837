// Package api provides the gRPC control plane for a running engine.
//
// The service is described by hand in the shape protoc-gen-go-grpc emits,
// using well-known message types (emptypb, structpb) so no generated
// package is needed.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ControlServiceName               = "tripwire.control.v1.Control"
	Control_Status_FullMethodName    = "/" + ControlServiceName + "/Status"
	Control_GetLogs_FullMethodName   = "/" + ControlServiceName + "/GetLogs"
	Control_Interrupt_FullMethodName = "/" + ControlServiceName + "/Interrupt"
)

// ControlServer is the server API for the Control service.
type ControlServer interface {
	// Status reports the current or most recent run.
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// GetLogs returns the audit trail. Request fields: category (string),
	// limit (number, newest entries kept).
	GetLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Interrupt asks the active run to stop.
	Interrupt(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

func _Control_Status_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Control_Status_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_GetLogs_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).GetLogs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Control_GetLogs_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).GetLogs(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_Interrupt_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Interrupt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Control_Interrupt_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Interrupt(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Control_ServiceDesc is the grpc.ServiceDesc for the Control service.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: _Control_Status_Handler},
		{MethodName: "GetLogs", Handler: _Control_GetLogs_Handler},
		{MethodName: "Interrupt", Handler: _Control_Interrupt_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tripwire/control/v1/control.proto",
}

// ControlClient is the low-level client API for the Control service.
type ControlClient interface {
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetLogs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Interrupt(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type controlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps a connection.
func NewControlClient(cc grpc.ClientConnInterface) ControlClient {
	return &controlClient{cc}
}

func (c *controlClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Status_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) GetLogs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_GetLogs_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) Interrupt(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, Control_Interrupt_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
