package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dronesim/internal/domain"
	"dronesim/internal/service"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	orderService    *service.OrderService
	dispatchService *service.DispatchService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderService *service.OrderService, dispatchService *service.DispatchService) *OrderHandler {
	return &OrderHandler{
		orderService:    orderService,
		dispatchService: dispatchService,
	}
}

// CreateOrderRequest is the HTTP request body for creating an order.
type CreateOrderRequest struct {
	Code               string           `json:"code,omitempty"`
	RestaurantLocation *domain.Waypoint `json:"restaurant_location"`
	CustomerLocation   *domain.Waypoint `json:"customer_location"`
	TotalAmount        float64          `json:"total_amount"`
}

// UpdateOrderStatusRequest is the HTTP request body for an order status change.
type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

// OrderResponse is the HTTP representation of an order.
type OrderResponse struct {
	ID                 string           `json:"id"`
	Code               string           `json:"code"`
	Status             string           `json:"status"`
	RestaurantLocation *domain.Waypoint `json:"restaurant_location,omitempty"`
	CustomerLocation   *domain.Waypoint `json:"customer_location,omitempty"`
	DroneLocation      *domain.Waypoint `json:"drone_location,omitempty"`
	TotalAmount        float64          `json:"total_amount"`
	CreatedAt          string           `json:"created_at"`
	UpdatedAt          string           `json:"updated_at"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:                 o.ID,
		Code:               o.Code,
		Status:             string(o.Status),
		RestaurantLocation: o.RestaurantLocation,
		CustomerLocation:   o.CustomerLocation,
		DroneLocation:      o.DroneLocation,
		TotalAmount:        o.TotalAmount,
		CreatedAt:          o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          o.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateOrder handles POST /v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), service.CreateOrderRequest{
		Code:        req.Code,
		Restaurant:  req.RestaurantLocation,
		Customer:    req.CustomerLocation,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toOrderResponse(order))
}

// GetAll handles GET /v1/orders
func (h *OrderHandler) GetAll(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	respondJSON(c, http.StatusOK, resp)
}

// GetOrder handles GET /v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toOrderResponse(order))
}

// UpdateStatus handles PATCH /v1/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.dispatchService.UpdateStatus(c.Request.Context(), service.UpdateStatusRequest{
		OrderID: c.Param("id"),
		Status:  req.Status,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toOrderResponse(order))
}

// GetRoute handles GET /v1/orders/:id/route and renders the route as GeoJSON.
func (h *OrderHandler) GetRoute(c *gin.Context) {
	route, err := h.orderService.GetRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, route.FeatureCollection())
}

// GetTracking handles GET /v1/orders/:id/tracking
func (h *OrderHandler) GetTracking(c *gin.Context) {
	snap, err := h.orderService.GetTracking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, snap)
}
