package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/repositories"
)

const eventOrderClosed = "order.closed"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderNotClosable indicates the order still has unsettled appointments.
	ErrOrderNotClosable = errors.New("order: not closable")
	// ErrOrderAlreadyClosed indicates a close request against a closed order.
	ErrOrderAlreadyClosed = errors.New("order: already closed")
	// ErrOrderDuplicateCode indicates the booking code is already in use.
	ErrOrderDuplicateCode = errors.New("order: duplicate code")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Directory   repositories.DirectoryRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	directory repositories.DirectoryRepository
	clock     func() time.Time
	newID     func() string
	events    EventPublisher
	logger    func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		directory: deps.Directory,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByCode(ctx context.Context, code string) (domain.Order, error) {
	if strings.TrimSpace(code) == "" {
		return domain.Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// OpenOrder opens an order under a caller-supplied booking code. Display
// labels come from the directory when it is wired; a lookup failure degrades
// to a placeholder label since labels are a stale cache anyway.
func (s *orderService) OpenOrder(ctx context.Context, cmd OpenOrderCommand) (domain.Order, error) {
	if cmd.WorkshopID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: workshop id is required", ErrOrderInvalidInput)
	}
	if cmd.VehicleID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: vehicle id is required", ErrOrderInvalidInput)
	}
	if cmd.DriverID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: driver id is required", ErrOrderInvalidInput)
	}

	code, err := domain.NewOrderCode(cmd.Code, cmd.WorkshopID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.clock()
	openedAt := cmd.OpenedAt
	if openedAt.IsZero() {
		openedAt = now
	} else {
		openedAt = openedAt.UTC()
	}

	order := domain.Order{
		ID:        orderIDPrefix + s.newID(),
		Code:      code,
		Status:    domain.OrderStatusOpen,
		Workshop:  s.workshopRef(ctx, cmd.WorkshopID),
		Vehicle:   s.vehicleRef(ctx, cmd.VehicleID),
		Driver:    s.driverRef(ctx, cmd.DriverID),
		OpenedAt:  openedAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.orders.Open(ctx, order)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       eventOrderOpened,
		OccurredAt: now,
		WorkshopID: created.Workshop.ID,
		OrderID:    created.ID,
		Payload: map[string]any{
			"code":      created.Code.Value,
			"vehicleId": created.Vehicle.ID,
			"driverId":  created.Driver.ID,
		},
	})
	return created, nil
}

func (s *orderService) workshopRef(ctx context.Context, id int64) domain.WorkshopRef {
	if s.directory != nil {
		if ref, err := s.directory.Workshop(ctx, id); err == nil {
			return ref
		}
	}
	return domain.WorkshopRef{ID: id, DisplayName: fmt.Sprintf("Workshop #%d", id)}
}

func (s *orderService) vehicleRef(ctx context.Context, id int64) domain.VehicleRef {
	if s.directory != nil {
		if ref, err := s.directory.Vehicle(ctx, id); err == nil {
			return ref
		}
	}
	return domain.VehicleRef{ID: id, DisplayName: fmt.Sprintf("Vehicle #%d", id)}
}

func (s *orderService) driverRef(ctx context.Context, id int64) domain.DriverRef {
	if s.directory != nil {
		if ref, err := s.directory.Driver(ctx, id); err == nil {
			return ref
		}
	}
	return domain.DriverRef{ID: id, DisplayName: fmt.Sprintf("Driver #%d", id)}
}

// CloseOrder transitions the order to closed. The repository rejects the
// transition while the appointment counter is non-zero; completing or
// cancelling appointments releases their counter slots first.
func (s *orderService) CloseOrder(ctx context.Context, cmd CloseOrderCommand) (domain.Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.Close(ctx, cmd.OrderID, now)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       eventOrderClosed,
		OccurredAt: now,
		WorkshopID: order.Workshop.ID,
		OrderID:    order.ID,
		Payload: map[string]any{
			"code":              order.Code.Value,
			"totalAppointments": order.TotalAppointments,
		},
	})
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var schedErr *repositories.SchedulingError
	if errors.As(err, &schedErr) {
		switch schedErr.Code {
		case repositories.SchedulingErrorOrderNotEmpty:
			return fmt.Errorf("%w: %v", ErrOrderNotClosable, err)
		case repositories.SchedulingErrorOrderClosed:
			return fmt.Errorf("%w: %v", ErrOrderAlreadyClosed, err)
		case repositories.SchedulingErrorDuplicateCode:
			return fmt.Errorf("%w: %v", ErrOrderDuplicateCode, err)
		case repositories.SchedulingErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) publishEvent(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
