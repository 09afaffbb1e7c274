package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dronesim/internal/domain"
	"dronesim/internal/realtime"
	"dronesim/internal/service"
)

// RealtimeHandler subscribes websocket clients to order rooms.
type RealtimeHandler struct {
	hub          *realtime.Hub
	orderService *service.OrderService
	log          logrus.FieldLogger
}

// NewRealtimeHandler creates a new RealtimeHandler.
func NewRealtimeHandler(hub *realtime.Hub, orderService *service.OrderService, log logrus.FieldLogger) *RealtimeHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RealtimeHandler{
		hub:          hub,
		orderService: orderService,
		log:          log,
	}
}

// Subscribe handles GET /v1/orders/:id/ws
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// The upgrader has already answered the request when this fails.
	if err := h.hub.ServeRoom(c.Writer, c.Request, domain.OrderRoom(order.ID)); err != nil {
		h.log.WithError(err).WithField("order_id", order.ID).Debug("websocket subscription ended")
	}
}
