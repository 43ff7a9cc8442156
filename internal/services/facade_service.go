package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/repositories"
)

// FacadeDeps bundles the repositories backing the read-only facade.
type FacadeDeps struct {
	Appointments repositories.AppointmentRepository
	Orders       repositories.OrderRepository
}

type schedulingFacade struct {
	appointments repositories.AppointmentRepository
	orders       repositories.OrderRepository
}

var _ SchedulingFacade = (*schedulingFacade)(nil)

// NewSchedulingFacade exposes existence and status lookups to other bounded
// contexts without handing out the aggregates themselves.
func NewSchedulingFacade(deps FacadeDeps) (SchedulingFacade, error) {
	if deps.Appointments == nil {
		return nil, errors.New("scheduling facade: appointment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("scheduling facade: order repository is required")
	}
	return &schedulingFacade{
		appointments: deps.Appointments,
		orders:       deps.Orders,
	}, nil
}

func (f *schedulingFacade) AppointmentExists(ctx context.Context, appointmentID string) (bool, error) {
	if appointmentID == "" {
		return false, fmt.Errorf("%w: appointment id is required", ErrSchedulingInvalidInput)
	}
	if _, err := f.appointments.FindByID(ctx, appointmentID); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *schedulingFacade) OrderExists(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := f.orders.FindByID(ctx, orderID); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *schedulingFacade) AppointmentStatus(ctx context.Context, appointmentID string) (domain.AppointmentStatus, error) {
	if appointmentID == "" {
		return "", fmt.Errorf("%w: appointment id is required", ErrSchedulingInvalidInput)
	}
	appointment, err := f.appointments.FindByID(ctx, appointmentID)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrSchedulingNotFound, appointmentID)
		}
		return "", err
	}
	return appointment.Status, nil
}

func (f *schedulingFacade) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	if orderID == "" {
		return "", fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := f.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return "", err
	}
	return order.Status, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
