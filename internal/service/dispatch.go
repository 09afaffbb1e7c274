package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"dronesim/internal/domain"
	"dronesim/internal/repository"
)

// Simulator is the part of SimulationService the dispatcher drives.
type Simulator interface {
	Start(ctx context.Context, req StartRequest) (*Run, error)
	Stop(orderID string) error
}

// Ensure SimulationService implements Simulator.
var _ Simulator = (*SimulationService)(nil)

// DispatchService reacts to order lifecycle changes by starting and
// stopping drone simulations.
type DispatchService struct {
	orderRepo repository.OrderRepository
	droneRepo repository.DroneRepository
	simulator Simulator
	log       logrus.FieldLogger
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(
	orderRepo repository.OrderRepository,
	droneRepo repository.DroneRepository,
	simulator Simulator,
	log logrus.FieldLogger,
) *DispatchService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DispatchService{
		orderRepo: orderRepo,
		droneRepo: droneRepo,
		simulator: simulator,
		log:       log,
	}
}

// UpdateStatusRequest contains the parameters for an order status change.
type UpdateStatusRequest struct {
	OrderID string
	Status  string
}

// UpdateStatus changes the status of an order. Confirming an order dispatches
// a drone; canceling one stops its simulation. Dispatch errors are logged,
// not returned: the status change itself has already succeeded.
func (s *DispatchService) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*domain.Order, error) {
	if req.OrderID == "" {
		return nil, ErrInvalidOrderID
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		return nil, ErrInvalidOrderStatus
	}

	order, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsClosed() {
		return nil, ErrOrderClosed
	}
	// A repeated trigger must not rewind an order that is already underway.
	if order.Status == status || (status == domain.OrderStatusConfirmed && order.Status != domain.OrderStatusPending) {
		return order, nil
	}

	if err := s.orderRepo.UpdateStatus(ctx, order.ID, status); err != nil {
		return nil, err
	}
	order.Status = status

	log := s.log.WithFields(logrus.Fields{"order_id": order.ID, "status": status})
	log.Info("order status updated")

	switch status {
	case domain.OrderStatusConfirmed:
		if _, err := s.Dispatch(ctx, order); err != nil && !errors.Is(err, ErrDuplicateStart) {
			log.WithError(err).Error("failed to dispatch drone")
		}
	case domain.OrderStatusCanceled:
		if err := s.simulator.Stop(order.ID); err != nil && !errors.Is(err, ErrSimulationNotFound) {
			log.WithError(err).Error("failed to stop simulation")
		}
	}

	return order, nil
}

// Dispatch assigns the first available drone to an order and starts its
// simulation from the drone's home. A drone whose previous run has not yet
// marked it busy is skipped. When no drone is free the order is simulated on
// its own from the default warehouse.
func (s *DispatchService) Dispatch(ctx context.Context, order *domain.Order) (*Run, error) {
	log := s.log.WithField("order_id", order.ID)
	var skipped []string

	for {
		drone, err := s.droneRepo.FindAvailable(ctx, skipped)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrNotFound):
			log.Warn("no free drone, simulating order without a drone")
			return s.simulator.Start(ctx, StartRequest{Order: order})
		default:
			return nil, err
		}

		home := drone.Home
		run, err := s.simulator.Start(ctx, StartRequest{Order: order, DroneID: drone.ID, Warehouse: &home})
		if !errors.Is(err, ErrDroneBusy) {
			return run, err
		}
		log.WithField("drone_id", drone.ID).Info("drone already flying, trying the next one")
		skipped = append(skipped, drone.ID)
	}
}
