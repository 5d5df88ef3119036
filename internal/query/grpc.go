package query

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LedgerServer is the server API for the read-only Ledger gRPC service.
//
// Requests and replies are protobuf well-known wrapper types, so the service
// needs no protoc step.
type LedgerServer interface {
	// Portfolio takes an owner public key in hex and replies with the portfolio JSON.
	Portfolio(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// Currency takes a currency id and replies with its cumulative issued amount in decimal.
	Currency(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.StringValue, error)
	// Timestamp takes a transaction id and replies with its ledger time in unix nanoseconds.
	Timestamp(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	// Journal takes a maximum entry count (0 for all) and replies with the
	// replica's recent execution outcomes as JSON.
	Journal(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error)
}

// UnimplementedLedgerServer can be embedded to have forward compatible implementations.
type UnimplementedLedgerServer struct{}

func (UnimplementedLedgerServer) Portfolio(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Portfolio not implemented")
}
func (UnimplementedLedgerServer) Currency(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Currency not implemented")
}
func (UnimplementedLedgerServer) Timestamp(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	return nil, status.Error(codes.Unimplemented, "method Timestamp not implemented")
}
func (UnimplementedLedgerServer) Journal(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Journal not implemented")
}

// RegisterLedgerServer registers the Ledger service on a gRPC server.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&Ledger_ServiceDesc, srv)
}

const serviceName = "coinfolio.cfm.query.v1.Ledger"

// LedgerClient is the client API for the Ledger gRPC service.
type LedgerClient interface {
	Portfolio(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Currency(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Timestamp(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	Journal(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type ledgerClient struct{ cc grpc.ClientConnInterface }

func NewLedgerClient(cc grpc.ClientConnInterface) LedgerClient { return &ledgerClient{cc: cc} }

func (c *ledgerClient) Portfolio(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Portfolio", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) Currency(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Currency", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) Timestamp(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Timestamp", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) Journal(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Journal", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Ledger_Portfolio_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).Portfolio(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Portfolio"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).Portfolio(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ledger_Currency_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).Currency(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Currency"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).Currency(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ledger_Timestamp_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).Timestamp(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Timestamp"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).Timestamp(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ledger_Journal_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).Journal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Journal"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).Journal(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

// Ledger_ServiceDesc is the grpc.ServiceDesc for the Ledger service.
var Ledger_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Portfolio", Handler: _Ledger_Portfolio_Handler},
		{MethodName: "Currency", Handler: _Ledger_Currency_Handler},
		{MethodName: "Timestamp", Handler: _Ledger_Timestamp_Handler},
		{MethodName: "Journal", Handler: _Ledger_Journal_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger.proto",
}
