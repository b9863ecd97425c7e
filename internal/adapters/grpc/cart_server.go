package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"cartsaga/internal/cart"
	"cartsaga/internal/checkout"
)

// CartService defines the behavior needed by the gRPC adapter.
type CartService interface {
	AddItem(ctx context.Context, cartID int64, item cart.LineItem) error
	RemoveItem(ctx context.Context, cartID int64, item cart.LineItem) error
	ViewCart(ctx context.Context, cartID int64) ([]cart.LineItem, error)
	Checkout(ctx context.Context, cartID int64) (checkout.SagaResult, error)
	ClearCart(ctx context.Context, cartID int64) error
}

// CartServer adapts CartService to gRPC.
type CartServer struct {
	service CartService
}

// NewCartServer constructs a CartServer.
func NewCartServer(svc CartService) *CartServer {
	return &CartServer{service: svc}
}

func (s *CartServer) AddItem(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cartID, item, err := itemRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.service.AddItem(ctx, cartID, item); err != nil {
		return nil, mapCartError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *CartServer) RemoveItem(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cartID, item, err := itemRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.service.RemoveItem(ctx, cartID, item); err != nil {
		return nil, mapCartError(err)
	}
	return &emptypb.Empty{}, nil
}

// ViewCart answers {"cart_id": n, "items": ["name", ...]}.
func (s *CartServer) ViewCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cartID, err := cartIDField(req)
	if err != nil {
		return nil, err
	}
	items, err := s.service.ViewCart(ctx, cartID)
	if err != nil {
		return nil, mapCartError(err)
	}
	names := make([]any, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return structpb.NewStruct(map[string]any{
		"cart_id": float64(cartID),
		"items":   names,
	})
}

// Checkout answers {"success": true, "message": ...} on commit. A failed
// saga is FailedPrecondition carrying the saga error text.
func (s *CartServer) Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cartID, err := cartIDField(req)
	if err != nil {
		return nil, err
	}
	result, err := s.service.Checkout(ctx, cartID)
	if err != nil {
		return nil, mapCartError(err)
	}
	if !result.Success {
		return nil, status.Error(codes.FailedPrecondition, result.Error)
	}
	return structpb.NewStruct(map[string]any{
		"success": true,
		"message": result.Message,
	})
}

func (s *CartServer) ClearCart(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cartID, err := cartIDField(req)
	if err != nil {
		return nil, err
	}
	if err := s.service.ClearCart(ctx, cartID); err != nil {
		return nil, mapCartError(err)
	}
	return &emptypb.Empty{}, nil
}

func cartIDField(req *structpb.Struct) (int64, error) {
	value, ok := req.GetFields()["cart_id"]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "cart_id is required")
	}
	n, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "cart_id must be a number")
	}
	f := n.NumberValue
	if f != math.Trunc(f) || f < math.MinInt64 || f >= 1<<63 {
		return 0, status.Error(codes.InvalidArgument, fmt.Sprintf("cart_id %v is not an integer", f))
	}
	return int64(f), nil
}

func itemRequest(req *structpb.Struct) (int64, cart.LineItem, error) {
	cartID, err := cartIDField(req)
	if err != nil {
		return 0, cart.LineItem{}, err
	}
	item, err := cart.NewLineItem(req.GetFields()["name"].GetStringValue())
	if err != nil {
		return 0, cart.LineItem{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return cartID, item, nil
}

func mapCartError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, commonerrors.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, commonerrors.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, commonerrors.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, commonerrors.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
