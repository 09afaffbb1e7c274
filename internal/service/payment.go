package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dronesim/internal/domain"
)

const (
	// PaymentSignatureField holds the callback signature and is excluded from signing.
	PaymentSignatureField = "signature"
	// PaymentOrderField names the order a callback refers to.
	PaymentOrderField = "order_id"
	// PaymentResponseField holds the gateway response code.
	PaymentResponseField = "response_code"

	paymentSuccessCode = "00"
)

// OrderStatusUpdater applies order lifecycle transitions.
type OrderStatusUpdater interface {
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*domain.Order, error)
}

// Ensure DispatchService implements OrderStatusUpdater.
var _ OrderStatusUpdater = (*DispatchService)(nil)

// PaymentService verifies payment gateway callbacks and confirms paid orders.
type PaymentService struct {
	secret  []byte
	updater OrderStatusUpdater
	log     logrus.FieldLogger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(secret string, updater OrderStatusUpdater, log logrus.FieldLogger) *PaymentService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PaymentService{
		secret:  []byte(secret),
		updater: updater,
		log:     log,
	}
}

// PaymentResult is the outcome of a verified callback.
type PaymentResult struct {
	OrderID   string
	Paid      bool
	Order     *domain.Order
	Duplicate bool
}

// HandleCallback verifies the callback signature and confirms the order when
// the gateway reports success. A callback for an order that is already past
// pending is acknowledged without changing anything.
func (s *PaymentService) HandleCallback(ctx context.Context, params map[string]string) (*PaymentResult, error) {
	if !s.Verify(params) {
		return nil, ErrInvalidSignature
	}

	orderID := params[PaymentOrderField]
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}

	result := &PaymentResult{
		OrderID: orderID,
		Paid:    params[PaymentResponseField] == paymentSuccessCode,
	}
	log := s.log.WithFields(logrus.Fields{
		"order_id":      orderID,
		"response_code": params[PaymentResponseField],
	})

	if !result.Paid {
		log.Warn("payment not successful")
		return result, nil
	}

	order, err := s.updater.UpdateStatus(ctx, UpdateStatusRequest{
		OrderID: orderID,
		Status:  string(domain.OrderStatusConfirmed),
	})
	if err != nil {
		if errors.Is(err, ErrOrderClosed) {
			result.Duplicate = true
			return result, nil
		}
		return nil, err
	}

	result.Order = order
	log.Info("payment confirmed order")
	return result, nil
}

// Sign computes the hex HMAC-SHA512 over the sorted key=value pairs of params,
// joined by '&'. Empty values and the signature field are skipped.
func (s *PaymentService) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == PaymentSignatureField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether params carry a valid signature.
func (s *PaymentService) Verify(params map[string]string) bool {
	sig := params[PaymentSignatureField]
	if sig == "" {
		return false
	}
	expected := s.Sign(params)
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}
