package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dronesim/internal/repository"
	"dronesim/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrSimulationNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidOrderID),
		errors.Is(err, service.ErrInvalidDroneID),
		errors.Is(err, service.ErrInvalidOrderStatus),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrMissingLocationData),
		errors.Is(err, service.ErrInvalidRouteSpec):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized

	// Conflict errors
	case errors.Is(err, service.ErrOrderClosed),
		errors.Is(err, service.ErrDuplicateStart),
		errors.Is(err, service.ErrDroneBusy):
		return http.StatusConflict

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
