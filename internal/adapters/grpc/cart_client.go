package grpc

import (
	"context"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"cartsaga/internal/cart"
	"cartsaga/internal/checkout"
)

// CartClient calls cartsaga.v1.CartService over a client connection.
type CartClient struct {
	cc grpcpkg.ClientConnInterface
}

func NewCartClient(cc grpcpkg.ClientConnInterface) *CartClient {
	return &CartClient{cc: cc}
}

func (c *CartClient) AddItem(ctx context.Context, cartID int64, item cart.LineItem, opts ...grpcpkg.CallOption) error {
	return c.cc.Invoke(ctx, MethodAddItem, itemMessage(cartID, item), new(emptypb.Empty), opts...)
}

func (c *CartClient) RemoveItem(ctx context.Context, cartID int64, item cart.LineItem, opts ...grpcpkg.CallOption) error {
	return c.cc.Invoke(ctx, MethodRemoveItem, itemMessage(cartID, item), new(emptypb.Empty), opts...)
}

func (c *CartClient) ViewCart(ctx context.Context, cartID int64, opts ...grpcpkg.CallOption) ([]cart.LineItem, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodViewCart, cartMessage(cartID), out, opts...); err != nil {
		return nil, err
	}
	values := out.GetFields()["items"].GetListValue().GetValues()
	items := make([]cart.LineItem, 0, len(values))
	for _, v := range values {
		items = append(items, cart.LineItem{Name: v.GetStringValue()})
	}
	return items, nil
}

// Checkout returns the saga result. A failed saga is a result, not an error.
func (c *CartClient) Checkout(ctx context.Context, cartID int64, opts ...grpcpkg.CallOption) (checkout.SagaResult, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, MethodCheckout, cartMessage(cartID), out, opts...)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.FailedPrecondition {
			return checkout.FailureResult(st.Message()), nil
		}
		return checkout.SagaResult{}, err
	}
	return checkout.SagaResult{
		Success: out.GetFields()["success"].GetBoolValue(),
		Message: out.GetFields()["message"].GetStringValue(),
	}, nil
}

func (c *CartClient) ClearCart(ctx context.Context, cartID int64, opts ...grpcpkg.CallOption) error {
	return c.cc.Invoke(ctx, MethodClearCart, cartMessage(cartID), new(emptypb.Empty), opts...)
}

func cartMessage(cartID int64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"cart_id": structpb.NewNumberValue(float64(cartID)),
	}}
}

func itemMessage(cartID int64, item cart.LineItem) *structpb.Struct {
	msg := cartMessage(cartID)
	msg.Fields["name"] = structpb.NewStringValue(item.Name)
	return msg
}
