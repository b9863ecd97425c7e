package grpc

import (
	"context"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "cartsaga.v1.CartService"

// Full method names of the cart service.
const (
	MethodAddItem    = "/" + serviceName + "/AddItem"
	MethodRemoveItem = "/" + serviceName + "/RemoveItem"
	MethodViewCart   = "/" + serviceName + "/ViewCart"
	MethodCheckout   = "/" + serviceName + "/Checkout"
	MethodClearCart  = "/" + serviceName + "/ClearCart"
)

// CartServiceServer is the server side of cartsaga.v1.CartService. Messages
// are well-known protobuf types so no generated code is required.
type CartServiceServer interface {
	AddItem(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	RemoveItem(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	ViewCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ClearCart(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// CartService_ServiceDesc describes cartsaga.v1.CartService for grpc.Server.
var CartService_ServiceDesc = grpcpkg.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpcpkg.MethodDesc{
		{MethodName: "AddItem", Handler: unaryHandler(MethodAddItem, CartServiceServer.AddItem)},
		{MethodName: "RemoveItem", Handler: unaryHandler(MethodRemoveItem, CartServiceServer.RemoveItem)},
		{MethodName: "ViewCart", Handler: unaryHandler(MethodViewCart, CartServiceServer.ViewCart)},
		{MethodName: "Checkout", Handler: unaryHandler(MethodCheckout, CartServiceServer.Checkout)},
		{MethodName: "ClearCart", Handler: unaryHandler(MethodClearCart, CartServiceServer.ClearCart)},
	},
	Streams:  []grpcpkg.StreamDesc{},
	Metadata: "cartsaga/v1/cart.proto",
}

func RegisterCartServiceServer(s grpcpkg.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartService_ServiceDesc, srv)
}

func unaryHandler[Resp any](fullMethod string, call func(CartServiceServer, context.Context, *structpb.Struct) (Resp, error)) grpcpkg.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServiceServer), ctx, in)
		}
		info := &grpcpkg.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
