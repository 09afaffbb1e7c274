package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dronesim/internal/domain"
	"dronesim/internal/service"
)

// DroneHandler handles HTTP requests for drones.
type DroneHandler struct {
	droneService *service.DroneService
}

// NewDroneHandler creates a new DroneHandler.
func NewDroneHandler(droneService *service.DroneService) *DroneHandler {
	return &DroneHandler{droneService: droneService}
}

// RegisterDroneRequest is the HTTP request body for drone registration.
type RegisterDroneRequest struct {
	Name string           `json:"name"`
	Home *domain.Waypoint `json:"home,omitempty"`
}

// DroneResponse is the HTTP response for drone data.
type DroneResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	Location     domain.Waypoint `json:"location"`
	Home         domain.Waypoint `json:"home"`
	IsSimulating bool            `json:"is_simulating"`
}

func toDroneResponse(d *domain.Drone) DroneResponse {
	return DroneResponse{
		ID:           d.ID,
		Name:         d.Name,
		Status:       string(d.Status),
		Location:     d.Location,
		Home:         d.Home,
		IsSimulating: d.IsSimulating,
	}
}

// Register handles POST /v1/drones/register
func (h *DroneHandler) Register(c *gin.Context) {
	var req RegisterDroneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}

	drone, err := h.droneService.RegisterDrone(c.Request.Context(), service.RegisterDroneRequest{
		Name: req.Name,
		Home: req.Home,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDroneResponse(drone))
}

// GetAll handles GET /v1/drones
func (h *DroneHandler) GetAll(c *gin.Context) {
	drones, err := h.droneService.ListDrones(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]DroneResponse, 0, len(drones))
	for _, d := range drones {
		resp = append(resp, toDroneResponse(d))
	}
	respondJSON(c, http.StatusOK, resp)
}

// GetDrone handles GET /v1/drones/:id
func (h *DroneHandler) GetDrone(c *gin.Context) {
	drone, err := h.droneService.GetDrone(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDroneResponse(drone))
}
