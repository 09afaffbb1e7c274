package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"dronesim/internal/service"
)

// PaymentHandler handles payment gateway callbacks.
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// PaymentCallbackResponse is the HTTP response for a payment callback.
type PaymentCallbackResponse struct {
	OrderID     string `json:"order_id"`
	Paid        bool   `json:"paid"`
	OrderStatus string `json:"order_status,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// Callback handles POST /v1/payments/callback. Parameters are read from a
// JSON object or from form/query values.
func (h *PaymentHandler) Callback(c *gin.Context) {
	params, err := callbackParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.paymentService.HandleCallback(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := PaymentCallbackResponse{
		OrderID:   result.OrderID,
		Paid:      result.Paid,
		Duplicate: result.Duplicate,
	}
	if result.Order != nil {
		resp.OrderStatus = string(result.Order.Status)
	}
	respondJSON(c, http.StatusOK, resp)
}

func callbackParams(c *gin.Context) (map[string]string, error) {
	params := make(map[string]string)

	if c.ContentType() == binding.MIMEJSON {
		// Numbers keep their original text so the signature still matches.
		var body map[string]any
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		for k, v := range body {
			if v == nil {
				continue
			}
			params[k] = fmt.Sprint(v)
		}
		return params, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	for k := range c.Request.Form {
		params[k] = c.Request.Form.Get(k)
	}
	return params, nil
}
