package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dronesim/internal/domain"
	"dronesim/internal/service"
)

// SimulationHandler handles HTTP requests for drone simulations.
type SimulationHandler struct {
	simulationService *service.SimulationService
	dispatchService   *service.DispatchService
	orderService      *service.OrderService
	droneService      *service.DroneService
}

// NewSimulationHandler creates a new SimulationHandler.
func NewSimulationHandler(
	simulationService *service.SimulationService,
	dispatchService *service.DispatchService,
	orderService *service.OrderService,
	droneService *service.DroneService,
) *SimulationHandler {
	return &SimulationHandler{
		simulationService: simulationService,
		dispatchService:   dispatchService,
		orderService:      orderService,
		droneService:      droneService,
	}
}

// StartSimulationRequest is the HTTP request body for starting a simulation.
type StartSimulationRequest struct {
	OrderID string `json:"order_id"`
	DroneID string `json:"drone_id,omitempty"` // empty picks the first free drone
}

// SimulationResponse is the HTTP representation of a simulation run.
type SimulationResponse struct {
	RunID     string `json:"run_id,omitempty"`
	OrderID   string `json:"order_id"`
	DroneID   string `json:"drone_id,omitempty"`
	Cursor    int    `json:"cursor"`
	Total     int    `json:"total"`
	Phase     string `json:"phase,omitempty"`
	Running   bool   `json:"running"`
	Outcome   string `json:"outcome,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

func toSimulationResponse(st domain.SimulationState) SimulationResponse {
	resp := SimulationResponse{
		RunID:     st.RunID,
		OrderID:   st.OrderID,
		DroneID:   st.DroneID,
		Cursor:    st.Cursor,
		Phase:     string(st.Phase),
		Running:   st.Running,
		Outcome:   string(st.Outcome),
		StartedAt: st.StartedAt.Format(time.RFC3339),
	}
	if st.Route != nil {
		resp.Total = st.Route.Len()
	}
	return resp
}

// Start handles POST /v1/simulations
func (h *SimulationHandler) Start(c *gin.Context) {
	var req StartSimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	order, err := h.orderService.GetOrder(ctx, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if order.Status.IsClosed() {
		respondError(c, service.ErrOrderClosed)
		return
	}

	var run *service.Run
	if req.DroneID == "" {
		run, err = h.dispatchService.Dispatch(ctx, order)
	} else {
		drone, derr := h.droneService.GetDrone(ctx, req.DroneID)
		if derr != nil {
			respondError(c, derr)
			return
		}
		home := drone.Home
		run, err = h.simulationService.Start(ctx, service.StartRequest{
			Order:     order,
			DroneID:   drone.ID,
			Warehouse: &home,
		})
	}

	// A duplicate start is a no-op, not a failure.
	if errors.Is(err, service.ErrDuplicateStart) {
		resp := SimulationResponse{OrderID: order.ID, DroneID: req.DroneID, Skipped: true}
		if active, ok := h.simulationService.Get(order.ID); ok {
			resp = toSimulationResponse(active.Snapshot())
			resp.Skipped = true
		}
		respondJSON(c, http.StatusOK, resp)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusAccepted, toSimulationResponse(run.Snapshot()))
}

// GetActive handles GET /v1/simulations
func (h *SimulationHandler) GetActive(c *gin.Context) {
	states := h.simulationService.Active()

	resp := make([]SimulationResponse, 0, len(states))
	for _, st := range states {
		resp = append(resp, toSimulationResponse(st))
	}
	respondJSON(c, http.StatusOK, resp)
}

// Stop handles DELETE /v1/simulations/:order_id
func (h *SimulationHandler) Stop(c *gin.Context) {
	if err := h.simulationService.Stop(c.Param("order_id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
