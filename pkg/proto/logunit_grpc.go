package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "pairdb.logunit.v1.LogUnit"

const (
	LogUnit_Write_FullMethodName     = "/" + ServiceName + "/Write"
	LogUnit_Read_FullMethodName      = "/" + ServiceName + "/Read"
	LogUnit_ReadRange_FullMethodName = "/" + ServiceName + "/ReadRange"
	LogUnit_Trim_FullMethodName      = "/" + ServiceName + "/Trim"
)

// LogUnitClient is the client API for the LogUnit service
type LogUnitClient interface {
	Write(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) (*WriteResponse, error)
	Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error)
	ReadRange(ctx context.Context, in *ReadRangeRequest, opts ...grpc.CallOption) (*ReadRangeResponse, error)
	Trim(ctx context.Context, in *TrimRequest, opts ...grpc.CallOption) (*TrimResponse, error)
}

type logUnitClient struct {
	cc grpc.ClientConnInterface
}

func NewLogUnitClient(cc grpc.ClientConnInterface) LogUnitClient {
	return &logUnitClient{cc}
}

func (c *logUnitClient) invoke(ctx context.Context, method string, in, out Message, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *logUnitClient) Write(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) (*WriteResponse, error) {
	out := new(WriteResponse)
	if err := c.invoke(ctx, LogUnit_Write_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *logUnitClient) Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error) {
	out := new(ReadResponse)
	if err := c.invoke(ctx, LogUnit_Read_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *logUnitClient) ReadRange(ctx context.Context, in *ReadRangeRequest, opts ...grpc.CallOption) (*ReadRangeResponse, error) {
	out := new(ReadRangeResponse)
	if err := c.invoke(ctx, LogUnit_ReadRange_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *logUnitClient) Trim(ctx context.Context, in *TrimRequest, opts ...grpc.CallOption) (*TrimResponse, error) {
	out := new(TrimResponse)
	if err := c.invoke(ctx, LogUnit_Trim_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// LogUnitServer is the server API for the LogUnit service. Implementations
// must embed UnimplementedLogUnitServer.
type LogUnitServer interface {
	Write(context.Context, *WriteRequest) (*WriteResponse, error)
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	ReadRange(context.Context, *ReadRangeRequest) (*ReadRangeResponse, error)
	Trim(context.Context, *TrimRequest) (*TrimResponse, error)
	mustEmbedUnimplementedLogUnitServer()
}

type UnimplementedLogUnitServer struct{}

func (UnimplementedLogUnitServer) Write(context.Context, *WriteRequest) (*WriteResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Write not implemented")
}
func (UnimplementedLogUnitServer) Read(context.Context, *ReadRequest) (*ReadResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Read not implemented")
}
func (UnimplementedLogUnitServer) ReadRange(context.Context, *ReadRangeRequest) (*ReadRangeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ReadRange not implemented")
}
func (UnimplementedLogUnitServer) Trim(context.Context, *TrimRequest) (*TrimResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Trim not implemented")
}
func (UnimplementedLogUnitServer) mustEmbedUnimplementedLogUnitServer() {}

func RegisterLogUnitServer(s grpc.ServiceRegistrar, srv LogUnitServer) {
	s.RegisterService(&LogUnit_ServiceDesc, srv)
}

func _LogUnit_Write_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(WriteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogUnitServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LogUnit_Write_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogUnitServer).Write(ctx, req.(*WriteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _LogUnit_Read_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogUnitServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LogUnit_Read_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogUnitServer).Read(ctx, req.(*ReadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _LogUnit_ReadRange_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadRangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogUnitServer).ReadRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LogUnit_ReadRange_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogUnitServer).ReadRange(ctx, req.(*ReadRangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _LogUnit_Trim_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TrimRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogUnitServer).Trim(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LogUnit_Trim_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogUnitServer).Trim(ctx, req.(*TrimRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// LogUnit_ServiceDesc is the grpc.ServiceDesc for the LogUnit service
var LogUnit_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LogUnitServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Write", Handler: _LogUnit_Write_Handler},
		{MethodName: "Read", Handler: _LogUnit_Read_Handler},
		{MethodName: "ReadRange", Handler: _LogUnit_ReadRange_Handler},
		{MethodName: "Trim", Handler: _LogUnit_Trim_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "logunit.proto",
}
