package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dronesim/internal/domain"
	"dronesim/internal/redis"
	"dronesim/internal/repository"
)

// OrderService handles order records and their tracking views.
type OrderService struct {
	orderRepo repository.OrderRepository
	tracking  redis.TrackingCacheInterface
	builder   RouteBuilder
	warehouse domain.Waypoint
}

// NewOrderService creates a new OrderService. The builder and warehouse are
// used to preview routes of orders that have not been dispatched yet.
func NewOrderService(
	orderRepo repository.OrderRepository,
	tracking redis.TrackingCacheInterface,
	builder RouteBuilder,
	warehouse domain.Waypoint,
) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		tracking:  tracking,
		builder:   builder,
		warehouse: warehouse,
	}
}

// CreateOrderRequest contains the parameters for creating an order.
type CreateOrderRequest struct {
	Code        string
	Restaurant  *domain.Waypoint
	Customer    *domain.Waypoint
	TotalAmount float64
}

// CreateOrder creates a new pending order.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	for _, w := range []*domain.Waypoint{req.Restaurant, req.Customer} {
		if w != nil && !isValidWaypoint(*w) {
			return nil, ErrInvalidLocation
		}
	}

	now := time.Now()
	order := &domain.Order{
		ID:                 uuid.New().String(),
		Code:               req.Code,
		RestaurantLocation: req.Restaurant,
		CustomerLocation:   req.Customer,
		Status:             domain.OrderStatusPending,
		TotalAmount:        req.TotalAmount,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if order.Code == "" {
		order.Code = "ORD-" + order.ID[:8]
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	return s.orderRepo.GetByID(ctx, orderID)
}

// ListOrders retrieves the most recent orders.
func (s *OrderService) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return s.orderRepo.GetAll(ctx)
}

// GetRoute returns the route of an order: the stored one once a simulation
// has started, otherwise a preview from the default warehouse.
func (s *OrderService) GetRoute(ctx context.Context, orderID string) (*domain.Route, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if len(order.Route) > 0 {
		return &domain.Route{Points: order.Route}, nil
	}

	if order.RestaurantLocation == nil || order.CustomerLocation == nil {
		return nil, ErrMissingLocationData
	}
	return s.builder.Build(s.warehouse, *order.RestaurantLocation, *order.CustomerLocation, s.warehouse)
}

// GetTracking returns the latest tracking snapshot of an order.
func (s *OrderService) GetTracking(ctx context.Context, orderID string) (*redis.TrackingSnapshot, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	if s.tracking == nil {
		return nil, repository.ErrNotFound
	}

	snap, err := s.tracking.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, repository.ErrNotFound
	}
	return snap, nil
}
